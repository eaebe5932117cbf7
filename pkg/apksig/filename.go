package apksig

import "regexp"

var (
	releaseNameRe        = regexp.MustCompile(`^(?P<appid>[a-zA-Z0-9_\.]+)_(?P<vercode>[0-9]+)\.apk`)
	releaseNameWithSigRe = regexp.MustCompile(`^(?P<appid>[a-zA-Z0-9_\.]+)_(?P<vercode>[0-9]+)_(?P<sigfp>[0-9a-f]{7})\.apk`)
)

// ParseReleaseFilename splits a release file name of the form
// appid_vercode[_sigfp].apk. The parts are only a hint about the file,
// nothing in it is checked. Unmatched parts are "".
func ParseReleaseFilename(name string) (appID, versionCode, sigFP string) {
	if m := releaseNameWithSigRe.FindStringSubmatch(name); m != nil {
		return m[1], m[2], m[3]
	}
	if m := releaseNameRe.FindStringSubmatch(name); m != nil {
		return m[1], m[2], ""
	}
	return "", "", ""
}
