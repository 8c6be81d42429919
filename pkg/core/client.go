package core

import "github.com/rapidaai/sonorad/pkg/types"

// Client is the main-thread record for one connected pstream session
// (spec.md §6.1's SET_CLIENT_NAME).
type Client struct {
	Index    uint32
	Name     string
	Proplist *types.Proplist

	// Kill is invoked by server-side policy (module unload, admin
	// disconnect) to tear the underlying pstream down.
	Kill func()
}

// NewClient constructs an unregistered Client; call Core.RegisterClient
// to give it an index.
func NewClient(name string, props *types.Proplist) *Client {
	if props == nil {
		props = types.NewProplist()
	}
	return &Client{Name: name, Proplist: props}
}
