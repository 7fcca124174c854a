/*
Package instance defines Instance, the capability a slave agent drives
through a time step (spec §1: "Loading and driving an FMI model... is
an external capability the core consumes"). Coral itself never loads
an FMU; it only calls Instance's methods at the points the control
protocol requires (SETUP, STEP, variable get/set).

The memmodel subpackage provides a tiny in-memory reference Instance
used by this module's own end-to-end tests, standing in for a real
FMI-backed implementation.
*/
package instance
