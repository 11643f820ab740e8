package model

// LocationSource identifies how a location fix was obtained. Preference
// order when several sources are present in one payload: gps, then cell
// triangulation, then wifi scan.
type LocationSource string

const (
	LocationGPS  LocationSource = "gps"
	LocationCell LocationSource = "cell_triangulation"
	LocationWiFi LocationSource = "wifi_scan"
)

// Coordinates are decimal degrees.
type Coordinates struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lng float64 `bson:"lng" json:"lng"`
}

// CellTower describes a cell-triangulation fix.
type CellTower struct {
	MCC int `bson:"mcc" json:"mcc"`
	MNC int `bson:"mnc" json:"mnc"`
	LAC int `bson:"lac" json:"lac"`
	CID int `bson:"cid" json:"cid"`
}

// WiFiAccessPoint is one scanned access point of a wifi_scan fix.
type WiFiAccessPoint struct {
	SSID string `bson:"ssid" json:"ssid"`
	MAC  string `bson:"mac" json:"mac"`
	RSSI int    `bson:"rssi" json:"rssi"`
}

// Location is the device-reported position attached to observations and
// emergency events. Exactly the fields of the winning source are set.
type Location struct {
	Source      LocationSource    `bson:"source" json:"source"`
	Coordinates *Coordinates      `bson:"coordinates,omitempty" json:"coordinates,omitempty"`
	Speed       *float64          `bson:"speed,omitempty" json:"speed,omitempty"`
	Heading     *float64          `bson:"heading,omitempty" json:"heading,omitempty"`
	Cell        *CellTower        `bson:"cell,omitempty" json:"cell,omitempty"`
	WiFi        []WiFiAccessPoint `bson:"wifi,omitempty" json:"wifi,omitempty"`
}
