package parliament

import "encoding/json"

// Bills API.

type sittingsResponse struct {
	Items        []sitting `json:"items"`
	TotalResults int       `json:"totalResults"`
	ItemsPerPage int       `json:"itemsPerPage"`
}

type sitting struct {
	ID          int    `json:"id"`
	StageID     int    `json:"stageId"`
	BillStageID int    `json:"billStageId"`
	BillID      int    `json:"billId"`
	Date        string `json:"date"`
}

// Bill is the subset of a bill detail record that items are built from.
type Bill struct {
	BillID       int             `json:"billId"`
	ShortTitle   string          `json:"shortTitle"`
	CurrentHouse string          `json:"currentHouse"`
	LastUpdate   string          `json:"lastUpdate"`
	Raw          json.RawMessage `json:"-"`
}

// Statutory Instruments API v2.

type siListResponse struct {
	Items        []siListItem `json:"items"`
	TotalResults int          `json:"totalResults"`
	ItemsPerPage int          `json:"itemsPerPage"`
}

type siListItem struct {
	Value json.RawMessage `json:"value"`
}

// Instrument is one statutory instrument summary.
type Instrument struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	PaperPrefix       string          `json:"paperPrefix"`
	PaperNumber       *int            `json:"paperNumber"`
	PaperYear         string          `json:"paperYear"`
	CommonsLayingDate string          `json:"commonsLayingDate"`
	LordsLayingDate   string          `json:"lordsLayingDate"`
	WorkpackageID     string          `json:"workpackageId"`
	Procedure         *procedure      `json:"procedure"`
	Raw               json.RawMessage `json:"-"`
}

type procedure struct {
	Name string `json:"name"`
}
