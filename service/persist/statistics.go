package persist

// DailyAggregate is one day's review totals, keyed by a YYYY-MM-DD date string
type DailyAggregate struct {
	Date        string `json:"date"`
	Reviews     int    `json:"reviews"`
	Correct     int    `json:"correct"`
	NewCards    int    `json:"newCards"`
	StudyMillis int64  `json:"studyMillis"`
}

// StreakRecord tracks consecutive study days. Stored as a singleton.
type StreakRecord struct {
	Current    int    `json:"current"`
	Longest    int    `json:"longest"`
	LastActive string `json:"lastActive"`
}

// StreakKey is the store key for the StreakRecord singleton
const StreakKey = "streak"

// DomainStats aggregates blocking activity for one domain
type DomainStats struct {
	Domain        string `json:"domain"`
	Blocks        int    `json:"blocks"`
	Unlocks       int    `json:"unlocks"`
	CardsAnswered int    `json:"cardsAnswered"`
}

// TagPerformance aggregates answer accuracy for one tag name
type TagPerformance struct {
	Tag     string `json:"tag"`
	Reviews int    `json:"reviews"`
	Correct int    `json:"correct"`
}

// ResponseEntry is one raw answer event in the response log
type ResponseEntry struct {
	ID        DBID   `json:"id"`
	CardID    DBID   `json:"cardId"`
	Grade     int    `json:"grade"`
	Timestamp Millis `json:"timestamp"`
}

// Statistics bundles the five statistics sub-collections for backup
// containers. Each sub-collection lives in its own store collection and is
// read back with a parallel fan-out on export.
type Statistics struct {
	Daily          map[string]DailyAggregate `json:"daily,omitempty"`
	Streak         *StreakRecord             `json:"streak,omitempty"`
	Domains        map[string]DomainStats    `json:"domains,omitempty"`
	TagPerformance map[string]TagPerformance `json:"tagPerformance,omitempty"`
	Responses      map[string]ResponseEntry  `json:"responses,omitempty"`
}
