package ghauth

// AccessToken wraps a GitHub bearer token so it cannot leak through
// fmt, %#v, encoding/json or text marshaling. Use Value only when building
// the Authorization header.
type AccessToken struct {
	value string
}

func NewAccessToken(value string) AccessToken {
	return AccessToken{value: value}
}

// Value returns the raw token. Never log the result.
func (t AccessToken) Value() string {
	return t.value
}

func (t AccessToken) IsEmpty() bool {
	return t.value == ""
}

func (t AccessToken) String() string {
	return Redacted
}

func (t AccessToken) GoString() string {
	return "ghauth.AccessToken{" + Redacted + "}"
}

func (t AccessToken) MarshalText() ([]byte, error) {
	return []byte(Redacted), nil
}

func (t AccessToken) MarshalJSON() ([]byte, error) {
	return []byte(`"` + Redacted + `"`), nil
}
