package classifier

import "github.com/go-paynotify/internal/domain"

// packageRule maps a package-name fragment to a source app. Order matters:
// Yape ships under a com.bcp.* package, so it must be tried before bcp.
type packageRule struct {
	fragment string
	source   domain.SourceApp
}

var packageRules = []packageRule{
	{"yape", domain.SourceYape},
	{"plin", domain.SourcePlin},
	{"interbank", domain.SourceInterbank},
	{"bbva", domain.SourceBBVA},
	{"scotiabank", domain.SourceScotiabank},
	{"bcp", domain.SourceBCP},
}

// appWords are the brand names that appear in notification text, not just in
// package names.
var appWords = map[string]struct{}{
	"yape":       {},
	"plin":       {},
	"bcp":        {},
	"interbank":  {},
	"bbva":       {},
	"scotiabank": {},
}

// defaultPackages are the full package names monitored before the first
// allowlist sync.
var defaultPackages = []string{
	"com.bcp.innovacxion.yape.movil",
	"com.bcp.bank.bcp",
	"pe.com.interbank.mobilebanking",
	"com.bbva.nxt_peru",
	"pe.com.scotiabank.blpm.android.client",
}

// All keyword lists are matched against accent-folded, lower-cased text.

// inclusionKeywords: at least one must appear in the body.
var inclusionKeywords = []string{
	"recibiste",
	"deposito",
	"transferencia",
	"abono",
	"s/",
	"soles",
	"us$",
	"dolares",
	"te envio",
	"yapeo",
	"plineado",
	"plineo",
	"pago recibido",
}

// exclusionKeywords flag marketing and reminder pushes. Entries must not be
// substrings of each other or a single phrase would count twice.
var exclusionKeywords = []string{
	"oferta",
	"sorteo",
	"recuerda",
	"consulta tu saldo",
	"revisa tu saldo",
	"consumo",
	"promocion",
	"descuento",
	"dscto",
	"solo hoy",
	"participa",
	"cuotas",
	"prestamo",
	"cupon",
	"cashback",
	"pagaste",
	"enviaste",
	"yapeaste",
	"vence",
}

// inboundActions are the phrases that make a text an incoming payment.
var inboundActions = []string{
	"recibiste",
	"has recibido",
	"te envio",
	"te ha enviado",
	"te yapeo",
	"te plineo",
	"te ha plineado",
	"te transfirio",
	"te deposito",
	"te abono",
	"te pago",
	"te enviaron",
	"te depositaron",
	"te transfirieron",
	"te abonaron",
	"te pagaron",
	"te yapearon",
	"te plinearon",
	"abono recibido",
	"deposito recibido",
	"transferencia recibida",
	"pago recibido",
}

var usdCues = []string{"us$", "usd", "dolares"}

// penCues only ever appear in sol-denominated notifications. Yape and Plin
// are PEN-only wallets, so their verbs count too.
var penCues = []string{"s/", "soles", "yapeo", "plineado", "plineo"}
