package conv

import "time"

// Session captures a transient anonymous conversation with the agent.
// Turns are appended in chronological order and strictly alternate
// between user and agent.
type Session struct {
	ID        string    `json:"id"`
	Profile   string    `json:"profile"`
	CreatedAt time.Time `json:"createdAt"`
	Turns     []Turn    `json:"turns"`
}

// AppendExchange records one request's user turn and the agent turn that
// answered it, preserving the one-to-one alternation invariant.
func (s *Session) AppendExchange(user, agent Turn) {
	user.Role = RoleUser
	agent.Role = RoleAgent
	s.Turns = append(s.Turns, user, agent)
}
