package ws

import "github.com/google/uuid"

func newConnID() string {
	return "conn-" + uuid.NewString()
}
