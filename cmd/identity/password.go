package identity

import "streamgate/cmd/security/password"

// HashPassword returns a PHC-style Argon2id hash string using the
// environment-driven security/password configuration.
func HashPassword(plain string) (string, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return "", err
	}
	return cfg.Hash(plain)
}

// VerifyPassword checks plain against a stored hash. The comparison is
// constant-time in the derived key; see security/password.
func VerifyPassword(plain, encodedHash string) (bool, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		cfg = password.DefaultConfig()
	}
	return cfg.Verify(encodedHash, plain)
}
