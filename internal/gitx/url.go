package gitx

import "strings"

const defaultHost = "github.com"

// BuildAuthenticatedURL converts a repository reference into a canonical
// HTTPS URL with the bearer token embedded as userinfo:
//
//	https://<token>@host/owner/repo.git
//
// Accepted forms are https://host/owner/repo[.git], git@host:owner/repo[.git]
// and bare owner/repo (assumed to live on github.com). Local filesystem
// remotes pass through untouched since they carry no credential. The function
// is pure; malformed input produces a malformed URL and the subsequent git
// call reports the failure.
func BuildAuthenticatedURL(repoURL, token string) string {
	trimmed := strings.TrimSpace(repoURL)
	if strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, ".") || strings.HasPrefix(trimmed, "file://") {
		return trimmed
	}
	host, path := splitRepoRef(repoURL)
	if !strings.HasSuffix(path, ".git") {
		path += ".git"
	}
	if token == "" {
		return "https://" + host + "/" + path
	}
	return "https://" + token + "@" + host + "/" + path
}

// ScrubToken removes the bearer token from arbitrary text so git output can
// be logged or stored without leaking the credential.
func ScrubToken(text, token string) string {
	if token == "" {
		return text
	}
	return strings.ReplaceAll(text, token, "***")
}

func splitRepoRef(ref string) (host, path string) {
	ref = strings.TrimSpace(ref)

	// SSH form: git@host:owner/repo
	if strings.HasPrefix(ref, "git@") {
		rest := strings.TrimPrefix(ref, "git@")
		if idx := strings.Index(rest, ":"); idx >= 0 {
			return rest[:idx], strings.Trim(rest[idx+1:], "/")
		}
		return defaultHost, strings.Trim(rest, "/")
	}

	for _, scheme := range []string{"https://", "http://", "git://", "ssh://"} {
		if strings.HasPrefix(ref, scheme) {
			ref = strings.TrimPrefix(ref, scheme)
			break
		}
	}
	// Drop any existing userinfo.
	if idx := strings.LastIndex(ref, "@"); idx >= 0 {
		ref = ref[idx+1:]
	}

	ref = strings.Trim(ref, "/")
	if idx := strings.Index(ref, "/"); idx >= 0 && strings.Contains(ref[:idx], ".") {
		return ref[:idx], ref[idx+1:]
	}
	// Bare owner/repo.
	return defaultHost, ref
}
