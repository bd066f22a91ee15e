package lockdown

import (
	"github.com/Masterminds/semver"
)

// iOS11 is the version gate StartService's caller needs to reason about
// EnableServiceSSL expectations around, the same MustParse-a-constant
// style as the teacher's ios.IOS11()/IOS14()/IOS17() helpers
// (ios/utils.go).
func iOS11() *semver.Version { return semver.MustParse("11.0") }

// ProductVersion fetches and parses the device's ProductVersion (spec §4.4
// GetValue), mirroring the teacher's GetProductVersion.
func (c *Client) ProductVersion() (*semver.Version, error) {
	c.mu.Lock()
	raw, err := c.getValueLocked("", "ProductVersion")
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	str, _ := raw.(string)
	return semver.NewVersion(str)
}

// ExpectsSessionSSLByDefault reports whether, on this iOS version, a
// lockdownd service is expected to set EnableServiceSSL even when its
// StartService response omits the key (pre-iOS 11 and some iOS 13+
// services default behavior changed repeatedly across releases, per
// go-ios's own IOS11/IOS13 checks guarding around StartService handling).
// A service client can use this as a fallback when a StartService response
// doesn't carry the field explicitly.
func ExpectsSessionSSLByDefault(version *semver.Version) bool {
	if version == nil {
		return false
	}
	return !version.LessThan(iOS11())
}
