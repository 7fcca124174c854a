/*
Package coralwire implements the wire encoding for every message body
that crosses a Coral socket (spec §6).

There is no protoc step in this repository, so the schemas below are
hand-encoded directly against the low-level
google.golang.org/protobuf/encoding/protowire primitives instead of being
generated from a .proto file. The schema is nonetheless exactly the one
spec §6 describes; it is reproduced here in proto3 syntax purely as
documentation of the field numbers the encoders/decoders in this package
agree on:

	message ScalarValue {
	  oneof value {
	    double  real    = 1;
	    sint32  integer = 2;
	    bool    boolean = 3;
	    string  string  = 4;
	  }
	}

	message VariableDescription {
	  uint32 id          = 1;
	  string name        = 2;
	  uint32 data_type    = 3; // DataType
	  uint32 causality    = 4; // Causality
	  uint32 variability  = 5; // Variability
	}

	message SlaveTypeDescription {
	  string name                            = 1;
	  string uuid                            = 2;
	  string description                     = 3;
	  string author                          = 4;
	  string version                         = 5;
	  repeated VariableDescription variables = 6;
	}

	message SlaveDescription {
	  SlaveTypeDescription type_description = 1;
	}

	message SetupData {
	  uint32 slave_id                     = 1;
	  double start_time                  = 2;
	  optional double stop_time          = 3;
	  string variable_pub_endpoint       = 4;
	  string variable_sub_endpoint       = 5;
	  string execution_name              = 6;
	  string slave_name                  = 7;
	  int32  variable_recv_timeout_ms    = 8;
	}

	message StepData {
	  uint64 step_id  = 1;
	  double timepoint = 2;
	  double stepsize  = 3;
	}

	message Connection {
	  uint32 slave_id    = 1;
	  uint32 variable_id = 2;
	}

	message VariableSetting {
	  uint32      variable_id      = 1;
	  ScalarValue value            = 2; // optional
	  Connection  connected_output = 3; // optional
	}

	message SetVarsData {
	  repeated VariableSetting variable = 1;
	}

	message PeerEndpoint {
	  uint32 slave_id = 1;
	  string endpoint = 2;
	}

	message SetPeersData {
	  repeated PeerEndpoint peers = 1;
	}

	message ErrorInfo {
	  uint32 code   = 1;
	  string detail = 2;
	}

	message TimestampedValue {
	  uint64      step_id = 1;
	  ScalarValue value   = 2;
	}

	message ReadyData {
	  string variable_pub_endpoint = 1;
	}

	message ControlHeader {
	  string protocol_id   = 1;
	  uint32 version       = 2;
	  uint32 message_type  = 3;
	}

The 8-byte data-transport header (step_id/slave_id/variable_id, all
little-endian fixed-width) is *not* a protobuf message — it is encoded
directly with encoding/binary, exactly as spec §6 specifies, so that
matching subscription filters against its last four bytes
(slave_id/variable_id, everything after step_id) is a simple byte
comparison rather than a protobuf parse.
*/
package coralwire
