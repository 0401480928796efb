package persist

// DomainSetting controls blocking for a single website domain. The domain
// name is the primary key, so domains are not renameable.
type DomainSetting struct {
	Domain          string `json:"domain" binding:"required"`
	CooldownMinutes int    `json:"cooldownMinutes" binding:"gte=0"`
	CardsPerUnlock  int    `json:"cardsPerUnlock" binding:"gte=0"`
	Active          bool   `json:"active"`
	Created         Millis `json:"created"`
}

// GlobalSettings is the singleton preferences object. It is stored under a
// single well-known key and versioned alongside the backup container.
type GlobalSettings struct {
	NewCardsPerDay   int    `json:"newCardsPerDay"`
	ReviewsPerDay    int    `json:"reviewsPerDay"`
	Theme            string `json:"theme"`
	Language         string `json:"language"`
	TTSEnabled       bool   `json:"ttsEnabled"`
	StrictMode       bool   `json:"strictMode"`
	DefaultCooldown  int    `json:"defaultCooldown"`
	LastModified     Millis `json:"lastModified"`
}

// SettingsKey is the store key under which the GlobalSettings singleton lives
const SettingsKey = "global"

// ActiveTagsKey is the store key for the active tag-name list singleton
const ActiveTagsKey = "active"
