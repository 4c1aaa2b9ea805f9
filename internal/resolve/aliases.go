// Package resolve implements the symbol resolution engine: input pattern
// detection, a cascading exact/alias/fuzzy lookup strategy, confidence
// scoring and an LRU+TTL cache with a reverse company-name index.
package resolve

import "strings"

// exchangeAliases maps a requested exchange code to the ordered list of
// broker-native codes to try instead. Covers common vendor names, historic
// names and ISO 10383 MIC codes. An absent key means no known aliases.
var exchangeAliases = map[string][]string{
	// Germany
	"XETRA":      {"IBIS", "IBIS2"},
	"XETR":       {"IBIS", "IBIS2"},
	"DEUTSCHE":   {"IBIS", "FWB"},
	"FRANKFURT":  {"FWB", "IBIS"},
	"XFRA":       {"FWB"},
	"TRADEGATE":  {"TGATE"},
	"XGAT":       {"TGATE"},
	"STUTTGART":  {"SWB"},
	"XSTU":       {"SWB"},
	"GETTEX":     {"GETTEX2"},
	"MUNICH":     {"MUN"},
	"XMUN":       {"MUN"},
	"BERLIN":     {"BER"},
	"XBER":       {"BER"},
	"HAMBURG":    {"HAM"},
	"XHAM":       {"HAM"},
	"DUSSELDORF": {"DUS"},
	"XDUS":       {"DUS"},

	// Switzerland
	"SWX":    {"EBS"},
	"SIX":    {"EBS"},
	"XSWX":   {"EBS"},
	"XVTX":   {"EBS"},
	"ZURICH": {"EBS"},

	// United Kingdom
	"LONDON": {"LSE", "LSEETF"},
	"XLON":   {"LSE", "LSEETF"},
	"LSEIOB": {"LSEIOB1"},

	// Euronext
	"EURONEXT":  {"SBF", "AEB", "ENEXT.BE"},
	"PARIS":     {"SBF"},
	"XPAR":      {"SBF"},
	"AMSTERDAM": {"AEB"},
	"XAMS":      {"AEB"},
	"BRUSSELS":  {"ENEXT.BE"},
	"XBRU":      {"ENEXT.BE"},
	"LISBON":    {"BVL"},
	"XLIS":      {"BVL"},
	"DUBLIN":    {"ISED"},
	"XDUB":      {"ISED"},
	"OSLO":      {"OSE"},
	"XOSL":      {"OSE"},

	// Italy
	"BIT":     {"BVME"},
	"BORSA":   {"BVME"},
	"MILAN":   {"BVME"},
	"XMIL":    {"BVME"},
	"ETFPLUS": {"BVME.ETF"},

	// Spain
	"BME":    {"BM"},
	"MADRID": {"BM"},
	"XMAD":   {"BM"},

	// Nordics
	"OMX":        {"SFB"},
	"STOCKHOLM":  {"SFB"},
	"XSTO":       {"SFB"},
	"HELSINKI":   {"HEX"},
	"XHEL":       {"HEX"},
	"COPENHAGEN": {"CPH"},
	"XCSE":       {"CPH"},
	"ICELAND":    {"ICEX"},
	"XICE":       {"ICEX"},

	// Austria, Poland, Hungary, Czechia
	"VIENNA":   {"VSE"},
	"XWBO":     {"VSE"},
	"WARSAW":   {"WSE"},
	"XWAR":     {"WSE"},
	"BUDAPEST": {"BUX"},
	"XBUD":     {"BUX"},
	"PRAGUE":   {"PRA"},
	"XPRA":     {"PRA"},

	// Japan. TSE is ambiguous: the Japanese reading maps to TSEJ here, the
	// Toronto reading is covered by the TSX entries below.
	"TSE":   {"TSEJ"},
	"TOKYO": {"TSEJ"},
	"XTKS":  {"TSEJ"},
	"JPX":   {"TSEJ"},
	"OSAKA": {"OSE.JPN"},
	"XOSE":  {"OSE.JPN"},

	// Hong Kong, China
	"HKEX":     {"SEHK"},
	"HONGKONG": {"SEHK"},
	"XHKG":     {"SEHK"},
	"SHANGHAI": {"SEHKNTL"},
	"XSHG":     {"SEHKNTL"},
	"SHENZHEN": {"SEHKSZSE"},
	"XSHE":     {"SEHKSZSE"},

	// Rest of Asia-Pacific
	"SINGAPORE": {"SGX"},
	"XSES":      {"SGX"},
	"KRX":       {"KSE"},
	"KOREA":     {"KSE"},
	"XKRX":      {"KSE"},
	"TAIWAN":    {"TWSE"},
	"XTAI":      {"TWSE"},
	"SYDNEY":    {"ASX"},
	"XASX":      {"ASX"},
	"XNZE":      {"NZX"},

	// India. BSE listings route through NSE on the broker side.
	"BSE":    {"NSE"},
	"XBOM":   {"NSE"},
	"XNSE":   {"NSE"},
	"BOMBAY": {"NSE"},

	// Canada
	"TSX":     {"TSE"},
	"TORONTO": {"TSE"},
	"XTSE":    {"TSE"},
	"TSXV":    {"VENTURE"},
	"XTSX":    {"VENTURE"},

	// United States (MIC and vendor names to broker codes)
	"XNYS":    {"NYSE"},
	"XNAS":    {"NASDAQ", "ISLAND"},
	"XASE":    {"AMEX"},
	"ARCX":    {"ARCA"},
	"XCBO":    {"CBOE"},
	"IEXG":    {"IEX"},
	"OTC":     {"PINK"},
	"OTCBB":   {"PINK"},
	"OTCMKTS": {"PINK"},

	// Latin America, Middle East, Africa
	"MEXICO":       {"MEXI"},
	"XMEX":         {"MEXI"},
	"B3":           {"BOVESPA"},
	"SAOPAULO":     {"BOVESPA"},
	"BVMF":         {"BOVESPA"},
	"TELAVIV":      {"TASE"},
	"XTAE":         {"TASE"},
	"JOHANNESBURG": {"JSE"},
	"XJSE":         {"JSE"},
}

// AliasesFor returns the ordered fallback exchange codes for a requested
// code, nil when none are known. Lookup is case-insensitive.
func AliasesFor(exchange string) []string {
	aliases, ok := exchangeAliases[strings.ToUpper(strings.TrimSpace(exchange))]
	if !ok {
		return nil
	}
	return append([]string(nil), aliases...)
}
