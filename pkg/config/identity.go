package config

import "github.com/marmos91/agentfs/pkg/identity"

// Credentials converts the configured ids into core credentials.
func (c CredentialsConfig) Credentials() identity.Credentials {
	return identity.New(c.UID, c.GID, c.Groups)
}
