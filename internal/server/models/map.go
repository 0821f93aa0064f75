package models

import "time"

// Map describes an uploaded map package. The package itself lives in object
// storage under ObjectKey; ID is ObjectKey without its namespace prefix and
// storage-format suffix.
type Map struct {
	ID          string    `json:"id"`
	ObjectKey   string    `json:"-"`
	Author      string    `json:"author"`
	AuthorID    string    `json:"authorId"`
	MapName     string    `json:"mapName"`
	Description string    `json:"description"`
	Thumbnail   string    `json:"thumbnail"`
	Downloads   int64     `json:"downloads"`
	GameType    string    `json:"gameType"`
	SourceURL   string    `json:"sourceUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
