package strata

import "fmt"

// FormatVersionKey is the blob user-metadata key under which the offload
// side records the index blob format version.
const FormatVersionKey = "strata-format-version"

// CurrentFormatVersion is the index blob format this reader understands.
const CurrentFormatVersion = "1"

// CheckFormatVersion is the default VersionCheck: it fails with
// ErrBadVersion when the index blob advertises a format version this
// reader does not understand. Blobs without a version entry pass; the
// decoder's own header check still applies to them.
func CheckFormatVersion(key string, info BlobInfo) error {
	v := info.Metadata[FormatVersionKey]
	if v == "" || v == CurrentFormatVersion {
		return nil
	}
	return fmt.Errorf("strata: index blob %q has format version %q: %w", key, v, ErrBadVersion)
}
