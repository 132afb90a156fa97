package assets

import "time"

// Asset is one stored artifact with its caption history, newest last.
type Asset struct {
	ID        string
	Content   string
	Captions  []Caption
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Caption is one revision of an asset's natural-language caption.
type Caption struct {
	Text      string
	CreatedAt time.Time
}

// CurrentCaption returns the newest caption revision, or "" when none exist.
func (a *Asset) CurrentCaption() string {
	if len(a.Captions) == 0 {
		return ""
	}
	return a.Captions[len(a.Captions)-1].Text
}

// Summary describes an asset without its content payload.
type Summary struct {
	ID           string
	Caption      string
	ContentBytes int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DatabaseHealth captures diagnostic information about the asset database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	IntegrityCheck   bool
	TotalAssets      int
	Error            string
}
