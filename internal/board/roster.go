package board

import "board-relay/internal/models"

// Roster tracks the live participants of one board keyed by connection id.
// The same user may appear several times, once per open connection.
type Roster struct {
	byConn map[string]models.Participant
	order  []string
}

func NewRoster() *Roster {
	return &Roster{byConn: make(map[string]models.Participant)}
}

// Add registers p. Re-adding a known connection id replaces the entry in place.
func (r *Roster) Add(p models.Participant) {
	if _, ok := r.byConn[p.ConnectionId]; !ok {
		r.order = append(r.order, p.ConnectionId)
	}
	r.byConn[p.ConnectionId] = p
}

// Remove drops the participant for connID and returns it.
func (r *Roster) Remove(connID string) (models.Participant, bool) {
	p, ok := r.byConn[connID]
	if !ok {
		return models.Participant{}, false
	}
	delete(r.byConn, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return p, true
}

func (r *Roster) Has(connID string) bool {
	_, ok := r.byConn[connID]
	return ok
}

func (r *Roster) Len() int { return len(r.byConn) }

// Entries projects the roster in join order.
func (r *Roster) Entries() []models.RosterEntry {
	out := make([]models.RosterEntry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byConn[id].Entry())
	}
	return out
}
