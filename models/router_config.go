package models

import "sort"

// RouterConfig is the routing configuration loaded at startup. It is never mutated
// after load and is shared by reference between request goroutines.
type RouterConfig struct {
	Endpoints     map[string]*Endpoint
	EndpointOrder []string
	Inventory     map[string]*InventoryEntry // keyed by normalized alias
	Policy        RoutingPolicy
}

// Endpoint returns the endpoint with the given ID.
func (c *RouterConfig) Endpoint(id string) (*Endpoint, bool) {
	ep, ok := c.Endpoints[id]
	return ep, ok
}

// OrderedEndpoints returns endpoints in declaration order.
func (c *RouterConfig) OrderedEndpoints() []*Endpoint {
	out := make([]*Endpoint, 0, len(c.EndpointOrder))
	for _, id := range c.EndpointOrder {
		if ep, ok := c.Endpoints[id]; ok {
			out = append(out, ep)
		}
	}
	return out
}

// Lookup finds an inventory entry by alias, normalizing the alias first.
func (c *RouterConfig) Lookup(alias string) (*InventoryEntry, bool) {
	entry, ok := c.Inventory[NormalizeAlias(alias)]
	return entry, ok
}

// Aliases returns the normalized inventory aliases sorted alphabetically.
func (c *RouterConfig) Aliases() []string {
	out := make([]string, 0, len(c.Inventory))
	for alias := range c.Inventory {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}
