package objstore

import "strings"

// Object key layout: uploads/{doc_id}/{filename} is the quarantine prefix,
// processed/{doc_id}/{filename} is the trusted prefix. Downloads are only
// ever served from processed/.
const (
	UploadPrefix    = "uploads/"
	ProcessedPrefix = "processed/"
)

// UploadKey builds the quarantine key for a fresh upload.
func UploadKey(docID, filename string) string {
	return UploadPrefix + docID + "/" + filename
}

// ProcessedKey maps an upload key to its processed counterpart by
// substituting the prefix on the first occurrence only.
func ProcessedKey(uploadKey string) string {
	return strings.Replace(uploadKey, UploadPrefix, ProcessedPrefix, 1)
}

// IsProcessedKey reports whether key lives under the trusted prefix.
func IsProcessedKey(key string) bool {
	return strings.HasPrefix(key, ProcessedPrefix)
}
