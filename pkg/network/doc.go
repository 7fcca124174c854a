/*
Package network parses and formats the endpoint locators Coral passes
around in SETUP/SET_PEERS bodies and CLI flags: URL-like strings of the
form "tcp://host:port" (spec §6). A bare "host:port" pair, as returned
by a just-bound net.Listener's Addr(), round-trips through Format.
*/
package network
