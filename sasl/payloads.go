package sasl

import (
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/nemomobile/telepathy-accounts-signon/core"
)

// FacebookChallenge is the decoded form body of a Facebook platform
// challenge.
type FacebookChallenge struct {
	Method string
	Nonce  string
}

// DecodeFacebookChallenge parses the form-encoded challenge the peer sends
// after the Facebook mechanism starts.
func DecodeFacebookChallenge(challenge []byte) (FacebookChallenge, error) {
	values, err := url.ParseQuery(string(challenge))
	if err != nil {
		return FacebookChallenge{}, core.BadInput(fmt.Sprintf("invalid facebook challenge: %v", err))
	}
	decoded := FacebookChallenge{
		Method: values.Get("method"),
		Nonce:  values.Get("nonce"),
	}
	if decoded.Method == "" || decoded.Nonce == "" {
		return FacebookChallenge{}, core.BadInput("invalid facebook challenge: method and nonce required")
	}
	return decoded, nil
}

// EncodeFacebookResponse builds the form-encoded response carrying the
// challenge's method and nonce plus the access token and client id.
func EncodeFacebookResponse(challenge FacebookChallenge, accessToken string, clientID string) []byte {
	values := url.Values{}
	values.Set("method", challenge.Method)
	values.Set("nonce", challenge.Nonce)
	values.Set("access_token", accessToken)
	values.Set("api_key", clientID)
	values.Set("call_id", "0")
	values.Set("v", "1.0")
	return []byte(values.Encode())
}

// DecodeWLMToken decodes the base64 token handed to the Messenger mechanism.
// The wire carries the raw decoded bytes.
func DecodeWLMToken(token string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, core.BadInput(fmt.Sprintf("invalid messenger token: %v", err))
	}
	return decoded, nil
}

// EncodeGoogleInitialResponse builds the X-OAUTH2 initial response:
// NUL, username, NUL, access token.
func EncodeGoogleInitialResponse(username string, accessToken string) []byte {
	payload := make([]byte, 0, len(username)+len(accessToken)+2)
	payload = append(payload, 0)
	payload = append(payload, username...)
	payload = append(payload, 0)
	payload = append(payload, accessToken...)
	return payload
}
