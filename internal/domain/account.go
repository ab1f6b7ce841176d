package domain

// Account holds the PBX credentials decoded from the configuration token.
type Account struct {
	HostName  string
	Username  string
	Token     string
	SIPExten  string
	SIPSecret string
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URL        string `json:"url"`
	Username   string `json:"username"`
	Credential string `json:"credential"`
}
