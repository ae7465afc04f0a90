package models

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
	RoleGuest = "guest"
)

const (
	ActionReserve   = "reserve"
	ActionUnreserve = "unreserve"
)

const (
	// PlaceholderImage is stored in image_name when a reservation has no asset.
	PlaceholderImage = "placeholder_100.jpg"

	// MaxUploadBytes caps accepted asset uploads at 5 MiB.
	MaxUploadBytes = 5 << 20

	// DefaultPageSize is the listing page size when the caller supplies none.
	DefaultPageSize = 6

	// MaxPageSize bounds caller-supplied page sizes.
	MaxPageSize = 100

	// DefaultSessionTTL время жизни сессии в секундах
	DefaultSessionTTL = 24 * 60 * 60

	// SessionCookie is the cookie carrying the session token.
	SessionCookie = "session_id"
)
