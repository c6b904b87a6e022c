package blacklist

// DatacenterASNs contains known datacenter/cloud/hosting provider ASNs.
// A QR code pointing at a bare datacenter IP is a common phishing setup, so
// these annotate (but never condemn) IP-literal hosts.
// Source: public BGP data + official provider documentation.
var DatacenterASNs = map[int]string{
	// Major cloud providers
	16509:  "Amazon.com / AWS",
	14618:  "Amazon.com / AWS",
	8075:   "Microsoft Azure",
	15169:  "Google Cloud",
	396982: "Google Cloud",
	45102:  "Alibaba Cloud",
	45090:  "Tencent Cloud",
	132203: "Tencent Cloud",
	31898:  "Oracle Cloud",
	36351:  "IBM Cloud / SoftLayer",
	13335:  "Cloudflare",

	// VPS / hosting providers
	14061:  "DigitalOcean",
	20473:  "Vultr / Choopa",
	63949:  "Linode / Akamai Connected Cloud",
	396998: "Linode / Akamai Connected Cloud",
	16276:  "OVHcloud",
	24940:  "Hetzner Online",
	213230: "Hetzner Cloud",
	12876:  "Scaleway (Online SAS)",
	40021:  "Contabo",
	51167:  "Contabo",
	60781:  "LeaseWeb",
	28753:  "LeaseWeb",
	202053: "UpCloud",
	36007:  "Kamatera",
	54290:  "Hostwinds",
	47583:  "Hostinger",
	197540: "Netcup",
	26496:  "GoDaddy Hosting",
	398101: "GoDaddy Cloud",
	50979:  "Selectel",

	// CDN / edge
	20940:  "Akamai Technologies",
	54113:  "Fastly",
	209242: "Cloudflare (WARP)",
	397213: "Cloudflare",
}

// IsKnownDatacenterASN checks if an ASN belongs to a known datacenter.
func IsKnownDatacenterASN(asn int) (string, bool) {
	org, ok := DatacenterASNs[asn]
	return org, ok
}
