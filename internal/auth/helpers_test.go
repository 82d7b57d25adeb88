package auth

import "github.com/keshly/keshly/internal/entity"

func entityUser(s *Session) entity.User {
	return entity.User{ID: s.User.ID, Email: s.User.Email, FullName: s.User.FullName}
}
