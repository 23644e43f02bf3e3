package auth

type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// DisplayName mirrors what Telegram clients show for the user.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return "@" + u.Username
	default:
		return ""
	}
}

// Service knows the single privileged identity allowed to read the ledger.
type Service struct {
	adminID int64
}

func New(adminID int64) *Service {
	return &Service{adminID: adminID}
}

func (s *Service) IsAdmin(userID int64) bool {
	return s != nil && s.adminID != 0 && userID == s.adminID
}

func (s *Service) AdminID() int64 {
	if s == nil {
		return 0
	}
	return s.adminID
}
