package metabolism

// Glycolysis returns the default pathway: glucose uptake, glycolysis, a
// lumped TCA cycle, oxidative phosphorylation, ATP maintenance and a few
// biosynthetic drains. Kinetic constants are illustrative rather than fitted.
func Glycolysis() *Network {
	return &Network{
		Name:    "glycolysis",
		Species: defaultSpecies(),
		Params:  defaultParams(),
		Reactions: []Reaction{
			{
				Name: "uptake",
				Rate: RateLaw{
					K:          kp("k_glucose_uptake"),
					Forward:    []Operand{par("glucose_external")},
					Saturation: []Saturation{{par("glucose_external"), kp("Km_glucose")}},
				},
				Stoich: map[string]float64{"glucose": 1},
			},
			{
				Name: "HK",
				Rate: RateLaw{
					K:       kp("k_HK"),
					Forward: []Operand{sp("glucose"), sp("ATP")},
					Saturation: []Saturation{
						{sp("glucose"), kp("Km_glucose")},
						{sp("ATP"), kp("Km_ATP")},
					},
				},
				Stoich: map[string]float64{"glucose": -1, "ATP": -1, "G6P": 1, "ADP": 1},
			},
			{
				Name: "PGI",
				Rate: RateLaw{
					K:          kp("k_PGI"),
					Forward:    []Operand{sp("G6P")},
					Reverse:    []Operand{sp("F6P")},
					Keq:        2,
					Saturation: []Saturation{{sp("G6P"), kp("Km_G6P")}},
				},
				Stoich: map[string]float64{"G6P": -1, "F6P": 1},
			},
			{
				Name: "PFK",
				Rate: RateLaw{
					K:       kp("k_PFK"),
					Forward: []Operand{sp("F6P"), sp("ATP")},
					Saturation: []Saturation{
						{sp("F6P"), kv(0.5)},
						{sp("ATP"), kp("Km_ATP")},
					},
				},
				Stoich: map[string]float64{"F6P": -1, "ATP": -1, "FBP": 1, "ADP": 1},
			},
			{
				Name: "ALD",
				Rate: RateLaw{
					K:          kp("k_ALD"),
					Forward:    []Operand{sp("FBP")},
					Saturation: []Saturation{{sp("FBP"), kv(1)}},
				},
				Stoich: map[string]float64{"FBP": -1, "DHAP": 1, "G3P": 1},
			},
			{
				Name: "TPI",
				Rate: RateLaw{
					K:          kp("k_TPI"),
					Forward:    []Operand{sp("DHAP")},
					Reverse:    []Operand{sp("G3P")},
					Keq:        1,
					Saturation: []Saturation{{sp("DHAP"), kv(1)}},
				},
				Stoich: map[string]float64{"DHAP": -1, "G3P": 1},
			},
			{
				// GAPDH lumped with the PGK step.
				Name: "GAPDH",
				Rate: RateLaw{
					K:       kp("k_GAPDH"),
					Forward: []Operand{sp("G3P"), sp("NAD"), sp("Pi")},
					Saturation: []Saturation{
						{sp("G3P"), kv(0.1)},
						{sp("NAD"), kv(0.5)},
						{sp("Pi"), kv(1)},
					},
				},
				Stoich: map[string]float64{
					"G3P": -1, "NAD": -1, "NADH": 1, "3PG": 1, "ATP": 1, "ADP": -1,
				},
			},
			{
				// enolase through pyruvate kinase
				Name: "lower",
				Rate: RateLaw{
					K:       kp("k_PK"),
					Forward: []Operand{sp("3PG"), sp("ADP")},
					Saturation: []Saturation{
						{sp("3PG"), kv(0.5)},
						{sp("ADP"), kv(0.2)},
					},
				},
				Stoich: map[string]float64{"3PG": -1, "pyruvate": 1, "ATP": 1, "ADP": -1},
			},
			{
				Name: "PDH",
				Rate: RateLaw{
					K:       kv(10),
					Forward: []Operand{sp("pyruvate"), sp("NAD")},
					Saturation: []Saturation{
						{sp("pyruvate"), kv(1)},
						{sp("NAD"), kv(1)},
					},
				},
				Stoich: map[string]float64{"pyruvate": -1, "acetyl_CoA": 1, "NAD": -1, "NADH": 1},
			},
			{
				Name: "TCA",
				Rate: RateLaw{
					K:       kv(5),
					Forward: []Operand{sp("acetyl_CoA"), sp("oxaloacetate")},
					Saturation: []Saturation{
						{sp("acetyl_CoA"), kv(0.1)},
						{sp("oxaloacetate"), kv(0.05)},
					},
				},
				Stoich: map[string]float64{
					"acetyl_CoA": -1, "NAD": -3, "NADH": 3, "ATP": 1, "ADP": -1,
				},
			},
			{
				Name: "OxPhos",
				Rate: RateLaw{
					K:       kp("k_ATP_synthesis"),
					Forward: []Operand{sp("NADH"), sp("ADP")},
					Saturation: []Saturation{
						{sp("NADH"), kv(0.1)},
						{sp("ADP"), kv(0.1)},
					},
				},
				Stoich: map[string]float64{"NADH": -1, "NAD": 1, "ATP": 2.5, "ADP": -2.5},
			},
			{
				Name: "ATP_use",
				Rate: RateLaw{
					K:          kp("k_ATP_consumption"),
					Forward:    []Operand{sp("ATP")},
					Saturation: []Saturation{{sp("ATP"), kv(1)}},
				},
				Stoich: map[string]float64{"ATP": -1, "ADP": 1, "Pi": 1},
			},
			{
				Name: "AA_synth",
				Rate: RateLaw{
					K:       kv(1),
					Forward: []Operand{sp("pyruvate"), sp("ATP")},
					Saturation: []Saturation{
						{sp("pyruvate"), kv(1)},
						{sp("ATP"), kv(1)},
					},
				},
				Stoich: map[string]float64{
					"pyruvate": -1, "ATP": -2, "ADP": 2,
					"alanine": 0.5, "glutamate": 0.3, "aspartate": 0.2,
				},
			},
			{
				Name: "anaplerosis",
				Rate: RateLaw{
					K:       kv(2),
					Forward: []Operand{sp("pyruvate"), sp("ATP")},
					Saturation: []Saturation{
						{sp("pyruvate"), kv(1)},
						{sp("ATP"), kv(1)},
					},
				},
				Stoich: map[string]float64{"pyruvate": -1, "oxaloacetate": 1, "ATP": -1, "ADP": 1},
			},
		},
		Fluxes: map[string]string{
			"glucose_uptake":  "uptake",
			"ATP_production":  "OxPhos",
			"ATP_consumption": "ATP_use",
		},
		// the reported glycolytic flux keeps its denominators off zero
		Readouts: map[string]RateLaw{
			"glycolysis": {
				K:       kp("k_HK"),
				Forward: []Operand{sp("glucose"), sp("ATP")},
				Saturation: []Saturation{
					{sp("glucose"), Coefficient{Param: "Km_glucose", Offset: 0.01}},
					{sp("ATP"), Coefficient{Param: "Km_ATP", Offset: 0.01}},
				},
			},
		},
	}
}

// Isomerization is a closed two-species network A <-> B.
func Isomerization() *Network {
	return &Network{
		Name:    "isomerization",
		Species: map[string]float64{"A": 1, "B": 0},
		Params:  Params{"kf": 2, "Km": 1, "growth_rate": 0},
		Reactions: []Reaction{{
			Name: "iso",
			Rate: RateLaw{
				K:          kp("kf"),
				Forward:    []Operand{sp("A")},
				Reverse:    []Operand{sp("B")},
				Keq:        3,
				Saturation: []Saturation{{sp("A"), kp("Km")}},
			},
			Stoich: map[string]float64{"A": -1, "B": 1},
		}},
	}
}

func defaultSpecies() map[string]float64 {
	return map[string]float64{
		"ATP": 3.65, "ADP": 0.22, "AMP": 0.1,
		"GTP": 0.5, "GDP": 0.1,
		"NAD": 2.18, "NADH": 0.025, "NADP": 0.01, "NADPH": 0.034,

		"glucose": 1.0, "G6P": 3.71, "F6P": 0.85, "FBP": 7.60,
		"DHAP": 0.64, "G3P": 0.1, "3PG": 1.10, "2PG": 0.027,
		"PEP": 0.041, "pyruvate": 3.37,

		"acetyl_CoA": 0.25, "citrate": 0.1, "oxaloacetate": 0.05,
		"alanine": 1.49, "glutamate": 0.1, "aspartate": 2.13,
		"glycerol_3P": 0.1, "dNTP_pool": 0.1,
		"Pi": 17.82, "H_internal": 0.1,
	}
}

func defaultParams() Params {
	return Params{
		"k_HK": 100, "k_PGI": 500, "k_PFK": 200, "k_ALD": 50, "k_TPI": 1000,
		"k_GAPDH": 100, "k_PGK": 500, "k_PGM": 1000, "k_ENO": 100, "k_PK": 200,

		"Km_glucose": 0.1, "Km_G6P": 0.5, "Km_ATP": 0.5,

		"k_ATP_synthesis":   50,
		"k_ATP_consumption": 30,
		"growth_rate":       0.01,
		"glucose_external":  40,
		"k_glucose_uptake":  0.1,
	}
}

func sp(name string) Operand { return Operand{Species: name} }

func par(name string) Operand { return Operand{Param: name} }

func kp(name string) Coefficient { return Coefficient{Param: name} }

func kv(v float64) Coefficient { return Coefficient{Value: v} }
