package textscan

// freightKeywords is the combined freight+bankruptcy lexicon compiled into
// the main automaton. Matching is ASCII case-insensitive, so every entry is
// lowercase.
var freightKeywords = []string{
	// Direct logistics terms
	"freight",
	"trucking",
	"carrier",
	"logistics",
	"transportation",
	"shipping",
	"hauling",
	"drayage",
	"intermodal",
	"ltl",
	"truckload",
	"less than truckload",
	"full truckload",
	"flatbed",
	"reefer",
	"refrigerated",
	"tanker",
	"dry van",
	"container",
	"trailer",
	"tractor",
	"semi",
	"18 wheeler",
	"eighteen wheeler",
	"motor carrier",
	"common carrier",
	"contract carrier",
	"freight broker",
	"freight forwarder",
	"3pl",
	"third party logistics",
	"third-party logistics",
	"supply chain",
	"warehouse",
	"warehousing",
	"distribution",
	"distribution center",
	"cross dock",
	"cross-dock",
	"last mile",
	"last-mile",
	"first mile",
	"middle mile",
	"linehaul",
	"line haul",
	"line-haul",
	"dispatch",
	"dispatcher",
	"load board",
	"dot number",
	"usdot",
	"mc number",
	"fmcsa",
	"operating authority",
	"broker authority",
	"cdl",
	"commercial driver",
	"owner operator",
	"owner-operator",
	"deadhead",
	"bobtail",
	"lumper",
	"bill of lading",
	"bol",
	"pod",
	"proof of delivery",
	"freight class",
	"nmfc",
	"stcc",
	// Industry associations. Trailing space on "ata " avoids matching
	// inside unrelated words.
	"ata ",
	"ooida",
	"tia",
	// Bankruptcy terms
	"chapter 7",
	"chapter 11",
	"chapter 13",
	"bankruptcy",
	"bankrupt",
	"insolvency",
	"insolvent",
	"liquidation",
	"reorganization",
	"creditor",
	"debtor",
	"filing",
	"petition",
	"receivership",
	"dissolution",
	"wind down",
	"cease operations",
	"ceased operations",
	"going concern",
	"material uncertainty",
}

// Narrow lexicons for company-type classification.
var (
	carrierKeywords = []string{
		"motor carrier",
		"common carrier",
		"contract carrier",
		"trucking company",
		"trucking",
		"carrier",
		"fleet",
		"cdl",
		"driver",
		"owner operator",
		"tractor",
		"trailer",
		"dot number",
		"usdot",
	}

	brokerKeywords = []string{
		"freight broker",
		"brokerage",
		"broker authority",
		"load board",
		"intermediary",
		"tia",
	}

	tplKeywords = []string{
		"3pl",
		"third party logistics",
		"third-party logistics",
		"warehouse",
		"warehousing",
		"distribution center",
		"fulfillment",
	}

	forwarderKeywords = []string{
		"freight forwarder",
		"forwarding",
		"customs",
		"import",
		"export",
		"international shipping",
		"ocean freight",
		"air freight",
		"nvocc",
	}
)

// bankruptcyTerms splits matched keywords into bankruptcy vs freight hits.
// A matched keyword counts as a bankruptcy hit when it contains any of
// these as a substring.
var bankruptcyTerms = []string{
	"chapter 7", "chapter 11", "chapter 13", "bankruptcy", "bankrupt",
	"insolvency", "insolvent", "liquidation", "reorganization", "creditor",
	"debtor", "filing", "petition", "receivership", "dissolution",
	"wind down", "cease operations", "going concern",
}

// highSignalTerms earn an extra confidence bonus; each is a near-certain
// indicator of a logistics-company filing on its own.
var highSignalTerms = []string{
	"motor carrier", "freight broker", "trucking company",
	"3pl", "chapter 11", "chapter 7", "operating authority",
}

// quickMarkers gate the full automaton scan. Both lowercase and
// capitalized spellings are listed so the check stays a plain byte search.
var quickMarkers = []string{
	"freight", "Freight",
	"truck", "Truck",
	"carrier", "Carrier",
	"logistics", "Logistics",
	"bankrupt", "Bankrupt",
	"chapter", "Chapter",
	"3pl", "3PL",
	"broker", "Broker",
}
