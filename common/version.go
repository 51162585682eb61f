package common

const BlobMoverVersion = "1.0.0"
const UserAgent = "BlobMover/" + BlobMoverVersion

// AddUserAgentPrefix prepends the user-configured prefix, if any
func AddUserAgentPrefix(userAgent string) string {
	prefix := GetEnvironmentVariable(EEnvironmentVariable.UserAgentPrefix())
	if len(prefix) > 0 {
		userAgent = prefix + " " + userAgent
	}
	return userAgent
}
