/*
Package model defines Coral's core data model: the things a master and a
slave agree on regardless of which wire protocol carries them.

# Core Types

Identity:
  - SlaveID: a master-assigned 16-bit identity for one running slave
  - VariableID: a 16-bit identity for one variable, unique within a slave type
  - StepID: a monotonically increasing step counter, starting at 0

Type description:
  - SlaveTypeDescription: name, UUID, description, author, version, variables
  - VariableDescription: name, data type, causality, variability

Values:
  - ScalarValue: a tagged union of real/integer/boolean/string
  - VariableReference: (SlaveID, VariableID) naming one variable globally
  - VariableSetting: an assigned value, a connection, or both
  - TimedSample: (StepID, SlaveID, VariableID, ScalarValue)

See spec §3 for the full data model and its invariants.
*/
package model
