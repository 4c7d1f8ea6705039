package config

// TransportConfig describes one transport kind and its endpoints.
// Example YAML:
//
//	transports:
//	  - kind: tcp
//	    listen:
//	      - address: ":4242"
//	        port: 4242
//	    dial:
//	      - address: "10.0.0.2:4242"
//	  - kind: quic
//	    listen:
//	      - address: ":4433"
//	        port: 4433
//	  - kind: winpipe
//	    listen:
//	      - address: "\\\\.\\pipe\\basp"
//	  - kind: mem
//	    listen:
//	      - address: "inproc://node-a"
type TransportConfig struct {
	Kind   string         `mapstructure:"kind"`
	Listen []ListenConfig `mapstructure:"listen"`
	Dial   []DialConfig   `mapstructure:"dial"`
}

// ListenConfig is one listener. Port selects the published actor advertised
// in the server handshake of accepted connections.
type ListenConfig struct {
	Address string `mapstructure:"address"`
	Port    uint16 `mapstructure:"port"`
}

// DialConfig describes a peer to connect to on startup.
type DialConfig struct {
	Address string `mapstructure:"address"`
}
