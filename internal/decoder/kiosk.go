package decoder

import (
	"encoding/json"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

// Kiosk is a decoded CM4_BLE_GW_TX payload. Kiosks run the same BLE
// gateway firmware as the boxes but take a single reading per session
// and attach the national citizen id the patient keyed in.
type Kiosk struct {
	KioskMac   string
	CitizenID  string
	Attribute  string
	Reading    Reading
	MeasuredAt time.Time
}

func (k *Kiosk) Family() model.DeviceFamily { return model.FamilyHospitalKiosk }

type kioskEnvelope struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Time      int64  `json:"time"`
	Mac       string `json:"mac"`
	Type      string `json:"type"`
	CitizenID string `json:"citizen_id"`
	Data      struct {
		Attribute string  `json:"attribute"`
		Value     Reading `json:"value"`
	} `json:"data"`
}

func decodeKiosk(payload []byte, receivedAt time.Time) (Decoded, error) {
	var env kioskEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, invalidJSON(err)
	}
	if env.Mac == "" {
		return nil, missingField("mac")
	}
	if env.CitizenID == "" {
		return nil, missingField("citizen_id")
	}
	if env.Data.Attribute == "" {
		return nil, missingField("data.attribute")
	}
	return &Kiosk{
		KioskMac:   env.Mac,
		CitizenID:  env.CitizenID,
		Attribute:  env.Data.Attribute,
		Reading:    env.Data.Value,
		MeasuredAt: env.Data.Value.MeasuredAt(env.Time, receivedAt),
	}, nil
}
