package conv

import (
	"time"

	"github.com/rufuslabs/rufus/backend/internal/model/catalog"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one message exchange unit within a session. Products are only
// attached to agent turns produced by a recommendation workflow; turns
// reference catalog products, they never own them.
type Turn struct {
	Role      Role              `json:"role"`
	Text      string            `json:"text"`
	Products  []catalog.Product `json:"products,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
