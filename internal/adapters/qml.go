package adapters

import (
	"github.com/ctagard/debugctl/internal/config"
	"github.com/ctagard/debugctl/pkg/types"
)

// QMLBuilder drives a DAP bridge to the QML debug service. The QML engine
// always attaches: either to a QML server named by the user, or as the
// companion of a native engine to the debug port handed to the inferior.
type QMLBuilder struct{}

// NewQMLBuilder creates a QML builder
func NewQMLBuilder() *QMLBuilder {
	return &QMLBuilder{}
}

func (q *QMLBuilder) Kind() types.BackendKind { return types.BackendQML }

func (q *QMLBuilder) AdapterID() string { return "qml" }

func (q *QMLBuilder) Supports(mode types.StartMode) bool { return mode.Valid() }

func (q *QMLBuilder) Command(cfg config.BackendConfig, p *types.RunParameters) (Command, error) {
	return Command{Path: cfg.Path, Args: cfg.Args, Address: cfg.Address}, nil
}

func (q *QMLBuilder) Request(p *types.RunParameters) (string, map[string]any) {
	host, port := splitHostPort(p.QmlChannel)
	if host == "" {
		host = "127.0.0.1"
	}
	args := map[string]any{"host": host, "port": port}
	if p.Executable != "" {
		args["program"] = p.Executable
	}
	return "attach", args
}
