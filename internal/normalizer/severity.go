package normalizer

import "github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"

// classify attaches the severity hint for dashboard display. Hints are a
// coarse threshold classification, never a clinical judgement; types
// without defined thresholds are always normal.
func classify(t model.ObservationType, v model.Values) model.SeverityHint {
	switch t {
	case model.TypeBloodPressure:
		if v.Systolic != nil && v.Diastolic != nil {
			return classifyBloodPressure(*v.Systolic, *v.Diastolic)
		}
	case model.TypeHeartRate:
		if v.BPM != nil {
			return classifyHeartRate(*v.BPM)
		}
	case model.TypeBodyTemperature:
		if v.Celsius != nil {
			return classifyTemperature(*v.Celsius)
		}
	case model.TypeSpO2:
		if v.Percent != nil {
			return classifySpO2(*v.Percent)
		}
	}
	return model.SeverityNormal
}

func classifyBloodPressure(sys, dia int) model.SeverityHint {
	// Readings outside any physiological range are flagged critical so
	// a broken cuff surfaces on the dashboard instead of passing as low.
	if sys < 30 || sys > 260 {
		return model.SeverityCritical
	}
	switch {
	case sys >= 180 || dia >= 120:
		return model.SeverityCritical
	case sys >= 90 && sys <= 120 && dia >= 60 && dia <= 80:
		return model.SeverityNormal
	case sys >= 130 || dia >= 80:
		return model.SeverityHigh
	case sys < 90 || dia < 60:
		return model.SeverityLow
	}
	return model.SeverityNormal
}

func classifyHeartRate(bpm int) model.SeverityHint {
	switch {
	case bpm > 150:
		return model.SeverityCritical
	case bpm > 100:
		return model.SeverityHigh
	case bpm < 60:
		return model.SeverityLow
	}
	return model.SeverityNormal
}

func classifyTemperature(celsius float64) model.SeverityHint {
	switch {
	case celsius > 39.0:
		return model.SeverityHighFever
	case celsius > 37.5:
		return model.SeverityFever
	case celsius < 36.0:
		return model.SeverityLow
	}
	return model.SeverityNormal
}

func classifySpO2(percent float64) model.SeverityHint {
	switch {
	case percent < 90:
		return model.SeverityCritical
	case percent < 95:
		return model.SeverityLow
	}
	return model.SeverityNormal
}
