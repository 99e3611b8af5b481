package domain

import "time"

// Site describes a git-hosted static site managed by GitPress.
//
// PAT holds the decrypted bearer credential for the repository. The stored
// form is encrypted; only the site service hands out decrypted copies, and
// the token must never appear in logs or task records.
type Site struct {
	ID              string
	Name            string
	RepositoryURL   string
	PAT             string
	LocalPath       string
	BuildCommand    string
	BuildOutputDir  string
	ValidateCommand string
	EditablePaths   []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StoredSite is the persisted shape of a site: the credential is ciphertext.
type StoredSite struct {
	ID              string
	Name            string
	RepositoryURL   string
	EncryptedPAT    []byte
	LocalPath       string
	BuildCommand    string
	BuildOutputDir  string
	ValidateCommand string
	EditablePaths   []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// User is an authenticated editor or operator.
type User struct {
	ID           string
	Username     string
	DisplayName  string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Author identifies who a git commit is attributed to.
type Author struct {
	Name  string
	Email string
}
