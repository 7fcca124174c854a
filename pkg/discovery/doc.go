/*
Package discovery implements the dynamic discovery layer of spec §4.B:
a Beacon that periodically broadcasts a UDP datagram advertising a
service, and a Tracker that listens for those datagrams and reports
appeared/changed/disappeared events per (service-type, service-id).

The UDP socket-handling shape here — net.ListenUDP plus a single
receive goroutine funneling datagrams back through a channel, with a
"closing chan chan error" handshake used only for teardown — follows the pack's own UDP server in
mcastellin-golang-mastery's dns package.
*/
package discovery
