package commission

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestConfigValidate_Tiered(t *testing.T) {
	valid := Config{Kind: KindTiered, Tiers: []Tier{
		{From: dec("0"), To: ptr(dec("50000")), Commission: Flat(dec("500"))},
		{From: dec("50000"), To: ptr(dec("200000")), Commission: Rate(dec("1"))},
		{From: dec("200000"), To: nil, Commission: Rate(dec("0.75"))},
	}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid tiered config rejected: %v", err)
	}

	cases := map[string]Config{
		"empty tiers": {Kind: KindTiered},
		"overlap": {Kind: KindTiered, Tiers: []Tier{
			{From: dec("0"), To: ptr(dec("60000")), Commission: Flat(dec("500"))},
			{From: dec("50000"), To: nil, Commission: Rate(dec("1"))},
		}},
		"gap": {Kind: KindTiered, Tiers: []Tier{
			{From: dec("0"), To: ptr(dec("50000")), Commission: Flat(dec("500"))},
			{From: dec("70000"), To: nil, Commission: Rate(dec("1"))},
		}},
		"unbounded not last": {Kind: KindTiered, Tiers: []Tier{
			{From: dec("0"), To: nil, Commission: Flat(dec("500"))},
			{From: dec("50000"), To: ptr(dec("60000")), Commission: Rate(dec("1"))},
		}},
		"inverted range": {Kind: KindTiered, Tiers: []Tier{
			{From: dec("50000"), To: ptr(dec("50000")), Commission: Flat(dec("500"))},
		}},
		"negative commission": {Kind: KindTiered, Tiers: []Tier{
			{From: dec("0"), To: nil, Commission: Flat(dec("-5"))},
		}},
	}

	for name, cfg := range cases {
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("%s: expected ErrInvalidConfiguration, got %v", name, err)
		}
	}
}

func TestConfigValidate_Scalars(t *testing.T) {
	if err := (Config{Kind: KindFixed, Amount: dec("-1")}).Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatal("negative fixed amount must be rejected")
	}
	if err := (Config{Kind: KindPercentage, Rate: dec("-0.5")}).Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatal("negative rate must be rejected")
	}
	if err := (Config{Kind: "bonus"}).Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatal("unknown variant must be rejected")
	}
}

func TestConfigJSON_RoundTripTiered(t *testing.T) {
	raw := `{"type":"tiered","tiers":[
		{"from":"0","to":"50000","commission":"500"},
		{"from":"50000","to":null,"commission":"1%"}
	]}`

	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Kind != KindTiered || len(cfg.Tiers) != 2 {
		t.Fatalf("unexpected decode result: %+v", cfg)
	}
	if cfg.Tiers[0].Commission.IsRate() {
		t.Fatal("first tier commission should be flat")
	}
	if !cfg.Tiers[1].Commission.IsRate() || !cfg.Tiers[1].Commission.Value().Equal(dec("1")) {
		t.Fatalf("second tier commission should be a 1%% rate, got %s", cfg.Tiers[1].Commission)
	}
	if cfg.Tiers[1].To != nil {
		t.Fatal("second tier should be unbounded")
	}

	encoded, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var again Config
	if err := json.Unmarshal(encoded, &again); err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if err := again.Validate(); err != nil {
		t.Fatalf("round-tripped config invalid: %v", err)
	}
}

func TestConfigJSON_NumericTierCommission(t *testing.T) {
	raw := `{"type":"tiered","tiers":[{"from":0,"to":null,"commission":250}]}`

	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Tiers[0].Commission.IsRate() || !cfg.Tiers[0].Commission.Value().Equal(dec("250")) {
		t.Fatalf("expected flat 250, got %s", cfg.Tiers[0].Commission)
	}
}

func TestConfigJSON_RejectsUnknownVariant(t *testing.T) {
	var cfg Config
	err := json.Unmarshal([]byte(`{"type":"surcharge","amount":"10"}`), &cfg)
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestConfigJSON_MissingVariantFields(t *testing.T) {
	var cfg Config
	if err := json.Unmarshal([]byte(`{"type":"fixed"}`), &cfg); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("fixed without amount: expected ErrInvalidConfiguration, got %v", err)
	}
	if err := json.Unmarshal([]byte(`{"type":"percentage"}`), &cfg); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("percentage without rate: expected ErrInvalidConfiguration, got %v", err)
	}
}
