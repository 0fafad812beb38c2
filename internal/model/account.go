package model

import (
	"bytes"
	"encoding/json"
)

// Account is one game account as persisted in the accounts file.
type Account struct {
	Name   string        `json:"name"`
	Cookie Credential    `json:"cookie"`
	Stats  *ResultRecord `json:"stats,omitempty"`
}

// Cookie is a single browser cookie of an account session.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Credential is the opaque session data needed to start a run.
// On disk it may be a single cookie object or an array of cookies.
type Credential []Cookie

// UnmarshalJSON accepts null, {} , a cookie object or an array of cookies.
func (c *Credential) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}
	if data[0] == '[' {
		var list []Cookie
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*c = list
		return nil
	}
	var one Cookie
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	if one.Name == "" && one.Value == "" {
		*c = nil
		return nil
	}
	*c = Credential{one}
	return nil
}

// MarshalJSON always writes an array, empty when there are no cookies.
func (c Credential) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Cookie(c))
}

// Header renders the credential as an HTTP Cookie header value.
func (c Credential) Header() string {
	var b bytes.Buffer
	for i, ck := range c {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ck.Name)
		b.WriteByte('=')
		b.WriteString(ck.Value)
	}
	return b.String()
}

// Clone returns a deep copy of the account.
func (a Account) Clone() Account {
	out := a
	if a.Cookie != nil {
		out.Cookie = append(Credential(nil), a.Cookie...)
	}
	if a.Stats != nil {
		s := *a.Stats
		out.Stats = &s
	}
	return out
}
