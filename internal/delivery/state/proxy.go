package state

// Proxy gives a shared-group member access to the group's canonical
// manager. Registration stays with the group, so Register is refused.
type Proxy struct {
	target *Manager
}

func NewProxy(target *Manager) *Proxy { return &Proxy{target: target} }

func (p *Proxy) Register(uint64, int) (bool, error) { return false, nil }
func (p *Proxy) Next() (uint64, bool)               { return p.target.Next() }
func (p *Proxy) Allocate(id uint64) error           { return p.target.Allocate(id) }
func (p *Proxy) Commit(id uint64) (bool, error)     { return p.target.Commit(id) }
func (p *Proxy) Rollback(id uint64) (int, error)    { return p.target.Rollback(id) }
func (p *Proxy) Release(id uint64) (bool, error)    { return p.target.Release(id) }
func (p *Proxy) Remove(id uint64) error             { return p.target.Remove(id) }
func (p *Proxy) Has(id uint64) bool                 { return p.target.Has(id) }
func (p *Proxy) HasAtRest() bool                    { return p.target.HasAtRest() }
func (p *Proxy) Pending() int                       { return p.target.Pending() }
func (p *Proxy) InFlight() int                      { return p.target.InFlight() }

// Target returns the canonical manager.
func (p *Proxy) Target() *Manager { return p.target }
