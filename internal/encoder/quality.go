package encoder

import "github.com/backmassage/sessionmux/internal/config"

// QualityParams is one row of the quality table: the rate-control value and
// preset for every candidate, plus the AAC bitrate. Lower CRF/CQ/QP values
// and slower presets at higher tiers; VideoToolbox's -q:v scale is inverted
// (higher is better).
type QualityParams struct {
	X264CRF      int
	X264Preset   string
	NVENCCQ      int
	NVENCPreset  string
	QSVQuality   int
	QSVPreset    string
	AMFQP        int
	AMFQuality   string
	VAAPIQP      int
	VTQuality    int
	AudioBitrate string
}

var qualityTable = map[config.QualityTier]QualityParams{
	config.QualityFast: {
		X264CRF: 26, X264Preset: "veryfast",
		NVENCCQ: 27, NVENCPreset: "p2",
		QSVQuality: 27, QSVPreset: "veryfast",
		AMFQP: 27, AMFQuality: "speed",
		VAAPIQP:      27,
		VTQuality:    45,
		AudioBitrate: "128k",
	},
	config.QualityMedium: {
		X264CRF: 23, X264Preset: "medium",
		NVENCCQ: 24, NVENCPreset: "p4",
		QSVQuality: 24, QSVPreset: "medium",
		AMFQP: 24, AMFQuality: "balanced",
		VAAPIQP:      24,
		VTQuality:    55,
		AudioBitrate: "160k",
	},
	config.QualityHigh: {
		X264CRF: 20, X264Preset: "slow",
		NVENCCQ: 21, NVENCPreset: "p6",
		QSVQuality: 21, QSVPreset: "slow",
		AMFQP: 21, AMFQuality: "quality",
		VAAPIQP:      21,
		VTQuality:    65,
		AudioBitrate: "192k",
	},
	config.QualityUltra: {
		X264CRF: 18, X264Preset: "slower",
		NVENCCQ: 19, NVENCPreset: "p7",
		QSVQuality: 19, QSVPreset: "veryslow",
		AMFQP: 19, AMFQuality: "quality",
		VAAPIQP:      19,
		VTQuality:    75,
		AudioBitrate: "256k",
	},
}

// Quality returns the parameters for tier. ok is false for an unknown tier.
func Quality(tier config.QualityTier) (QualityParams, bool) {
	q, ok := qualityTable[tier]
	return q, ok
}

// AudioBitrate returns the AAC bitrate for tier ("160k" when unknown).
func AudioBitrate(tier config.QualityTier) string {
	if q, ok := qualityTable[tier]; ok {
		return q.AudioBitrate
	}
	return qualityTable[config.QualityMedium].AudioBitrate
}
