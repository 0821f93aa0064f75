// Package common contains shared constants and sentinel errors used across
// bhopmaps components.
package common

// SessionCookieName is the cookie that carries the session token between
// requests.
const SessionCookieName = "jwt"

// Object store namespaces.
const (
	MapKeyPrefix   = "maps/"
	ImageKeyPrefix = "images/"
)

// MapPackageExtension is the storage-format suffix appended to every map
// package key. It is stripped to form the public map id.
const MapPackageExtension = ".zip"
