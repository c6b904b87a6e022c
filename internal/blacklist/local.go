package blacklist

import (
	"fmt"
	"log"
	"net"
	"os"

	"github.com/oschwald/maxminddb-golang"
)

// LocalDB wraps a GeoLite2-ASN MMDB used to annotate IP-literal URL hosts.
type LocalDB struct {
	reader *maxminddb.Reader
}

// ASNInfo is what Lookup returns for an IP host.
type ASNInfo struct {
	ASN        int
	Org        string
	Datacenter bool
}

// mmdbRecord maps the fields in a GeoLite2-ASN MMDB.
type mmdbRecord struct {
	AutonomousSystemNumber       int    `maxminddb:"autonomous_system_number"`
	AutonomousSystemOrganization string `maxminddb:"autonomous_system_organization"`
}

// NewLocalDB tries to open the MMDB file. Returns nil if not available.
func NewLocalDB(path string) *LocalDB {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("[blacklist] MMDB file not found at %s, ASN enrichment disabled", path)
		return nil
	}

	reader, err := maxminddb.Open(path)
	if err != nil {
		log.Printf("[blacklist] Failed to open MMDB: %v, ASN enrichment disabled", err)
		return nil
	}

	log.Printf("[blacklist] Loaded MMDB: %s", path)
	return &LocalDB{reader: reader}
}

// Lookup queries the MMDB for ASN info and checks the datacenter ASN list.
func (db *LocalDB) Lookup(ip net.IP) (*ASNInfo, error) {
	var record mmdbRecord
	if err := db.reader.Lookup(ip, &record); err != nil {
		return nil, fmt.Errorf("MMDB lookup failed: %w", err)
	}

	info := &ASNInfo{
		ASN: record.AutonomousSystemNumber,
		Org: record.AutonomousSystemOrganization,
	}
	if org, ok := IsKnownDatacenterASN(record.AutonomousSystemNumber); ok {
		info.Datacenter = true
		info.Org = org
	}
	return info, nil
}

// Close closes the MMDB reader.
func (db *LocalDB) Close() {
	if db != nil && db.reader != nil {
		db.reader.Close()
	}
}
