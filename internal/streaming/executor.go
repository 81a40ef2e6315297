package streaming

// EngineHandle identifies a pipeline realised by an Executor.
type EngineHandle interface {
	ID() string
}

// Executor is the media engine that understands pipeline descriptions.
// Teardown is called exactly once for every handle Instantiate returned.
type Executor interface {
	Validate(description string) error
	Instantiate(description string) (EngineHandle, error)
	Teardown(h EngineHandle) error
}

// Endpoint is an attached listening endpoint.
type Endpoint interface {
	Addr() string
}

// Listener attaches and detaches the control-protocol endpoint.
type Listener interface {
	Listen(port uint16) (Endpoint, error)
	Detach(ep Endpoint)
}
