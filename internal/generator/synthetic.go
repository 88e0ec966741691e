package generator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"taxiifeed/internal/stix"
)

var (
	malwareFamilies = []string{"Emotet", "TrickBot", "Qbot", "Cobalt Strike", "Metasploit", "Mimikatz", "BloodHound", "Empire", "PsExec"}
	threatActors    = []string{"APT28", "APT29", "Lazarus", "FIN7", "Carbanak", "DarkHydrus", "OilRig", "MuddyWater", "Turla"}

	domainPrefixes = []string{"malware", "c2", "phish", "exploit", "dropper", "payload", "beacon", "cobra", "viper", "shadow"}
	domainMiddles  = []string{"control", "command", "download", "update", "sync", "data", "info", "stats", "telemetry", "metrics"}
	domainTLDs     = []string{".com", ".net", ".org", ".info", ".biz", ".io", ".tech", ".xyz", ".online", ".site"}
	urlPaths       = []string{"/api/beacon", "/update/check", "/data/sync", "/get/info", "/ping", "/cfg/get", "/task/poll", "/cmd/exec", "/file/upload", "/log/send"}
	urlParams      = []string{"", "?id=", "?session=", "?key=", "?token=", "?user="}
)

const killChainName = "lockheed-martin-cyber-kill-chain"

var (
	phaseRecon        = KillChainPhase{killChainName, "reconnaissance"}
	phaseWeaponize    = KillChainPhase{killChainName, "weaponization"}
	phaseDelivery     = KillChainPhase{killChainName, "delivery"}
	phaseExploitation = KillChainPhase{killChainName, "exploitation"}
	phaseInstall      = KillChainPhase{killChainName, "installation"}
	phaseC2           = KillChainPhase{killChainName, "command-and-control"}
	phaseActions      = KillChainPhase{killChainName, "actions-on-objectives"}
)

type attackPattern struct {
	name, description, externalID string
	phases                        []KillChainPhase
}

var attackPatterns = []attackPattern{
	{"Spearphishing Attachment", "Adversaries send spearphishing emails with malicious attachments", "T1566.001", []KillChainPhase{phaseDelivery}},
	{"Command and Scripting Interpreter", "Abuse of command and script interpreters", "T1059", []KillChainPhase{phaseExploitation, phaseInstall}},
	{"Remote System Discovery", "Discovery of systems on the network", "T1018", []KillChainPhase{phaseRecon, phaseActions}},
	{"Credential Dumping", "Dumping credentials to obtain account info", "T1003", []KillChainPhase{phaseActions}},
}

// Synthetic produces random but well-formed STIX content: three actor
// identities, a batch of indicators, the attack-pattern catalog and
// relationships tying indicators to both.
type Synthetic struct {
	MinCount     int
	MaxCount     int
	Source       string
	SourceSystem string

	rng *rand.Rand
	now func() time.Time
}

// NewSynthetic returns a producer emitting between minCount and maxCount
// indicators per payload.
func NewSynthetic(minCount, maxCount int) *Synthetic {
	return &Synthetic{
		MinCount:     minCount,
		MaxCount:     maxCount,
		Source:       "STEELCAGE.AI",
		SourceSystem: DefaultSourceSystem,
		rng:          rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:          time.Now,
	}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Produce(ctx context.Context) (*Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.MinCount > s.MaxCount {
		return nil, fmt.Errorf("min count %d exceeds max count %d", s.MinCount, s.MaxCount)
	}

	now := s.now().UTC()
	stamp := stix.FormatTimestamp(now)
	validFrom := stix.FormatTimestamp(now.Add(-time.Duration(s.rng.IntN(11))*24*time.Hour - time.Duration(s.rng.IntN(24))*time.Hour))

	count := max(s.MinCount, 1)
	if s.MinCount != s.MaxCount {
		count = s.MinCount + s.rng.IntN(s.MaxCount-s.MinCount+1)
	}

	var objects []Object
	base := func(typ string) Object {
		return Object{
			Type:        typ,
			SpecVersion: stix.SpecVersion,
			ID:          typ + "--" + uuid.NewString(),
			Created:     stamp,
			Modified:    stamp,
			Source:      s.Source,
			PatternType: "stix",
			ValidFrom:   validFrom,
		}
	}

	var identityIDs []string
	for _, actor := range threatActors[:3] {
		o := base(stix.TypeIdentity)
		o.Name = actor
		o.Description = "Threat actor group " + actor + " - Known for sophisticated cyber operations"
		o.IdentityClass = "group"
		o.Pattern = fmt.Sprintf("[identity:name = '%s']", actor)
		objects = append(objects, o)
		identityIDs = append(identityIDs, o.ID)
	}

	var indicatorIDs []string
	for i := 0; i < count; i++ {
		o := s.indicator(base(stix.TypeIndicator))
		objects = append(objects, o)
		indicatorIDs = append(indicatorIDs, o.ID)
	}

	var patternIDs []string
	for _, ap := range attackPatterns {
		o := base(stix.TypeAttackPattern)
		o.Name = ap.name
		o.Description = ap.description
		o.Pattern = fmt.Sprintf("[attack-pattern:name = '%s']", ap.name)
		o.KillChainPhases = ap.phases
		o.ExternalReferences = []ExternalReference{{
			SourceName: "mitre-attack",
			ExternalID: ap.externalID,
			URL:        "https://attack.mitre.org/techniques/" + ap.externalID + "/",
		}}
		objects = append(objects, o)
		patternIDs = append(patternIDs, o.ID)
	}

	relationship := func(relType, description, target string) Object {
		o := base(stix.TypeRelationship)
		o.Name = "Relationship: " + relType
		o.Description = description
		o.Pattern = fmt.Sprintf("[relationship:type = '%s']", relType)
		o.RelationshipType = relType
		o.SourceRef = pick(s.rng, indicatorIDs)
		o.TargetRef = target
		return o
	}
	for i := 0; i < min(5, len(indicatorIDs)); i++ {
		relType := pick(s.rng, []string{"indicates", "uses"})
		objects = append(objects, relationship(relType, "Indicator relationship to attack pattern", pick(s.rng, patternIDs)))
	}
	for i := 0; i < min(3, len(indicatorIDs)); i++ {
		objects = append(objects, relationship("attributed-to", "Indicator attributed to threat actor group", pick(s.rng, identityIDs)))
	}

	return &Payload{SourceSystem: s.SourceSystem, Objects: objects}, nil
}

func (s *Synthetic) indicator(o Object) Object {
	malware := pick(s.rng, malwareFamilies)
	actor := pick(s.rng, threatActors)
	o.Labels = []string{"malicious-activity"}
	o.Confidence = 60 + s.rng.IntN(41)

	switch s.rng.IntN(4) {
	case 0:
		o.Pattern = fmt.Sprintf("[ipv4-addr:value = '%s']", s.ip())
		o.Name = "Malicious IP - " + malware + " C2"
		o.Description = fmt.Sprintf("IP address associated with %s activity attributed to threat actor: %s.", malware, actor)
		o.KillChainPhases = []KillChainPhase{phaseC2}
	case 1:
		o.Pattern = fmt.Sprintf("[domain-name:value = '%s']", s.domain())
		o.Name = "Malicious Domain - " + malware
		o.Description = fmt.Sprintf("Domain used by %s infrastructure attributed to threat actor: %s.", malware, actor)
		o.KillChainPhases = []KillChainPhase{phaseC2, phaseInstall}
	case 2:
		o.Pattern = fmt.Sprintf("[url:value = '%s']", s.url())
		o.Name = "Malicious URL - " + malware
		o.Description = fmt.Sprintf("URL serving %s payload attributed to %s campaign.", malware, actor)
		o.KillChainPhases = []KillChainPhase{phaseDelivery, phaseExploitation}
	default:
		o.Pattern = fmt.Sprintf("[file:hashes.MD5 = '%s']", strings.ReplaceAll(uuid.NewString(), "-", ""))
		o.Name = "Malicious File Hash - " + malware
		o.Description = fmt.Sprintf("MD5 hash of %s variant associated with %s operations.", malware, actor)
		o.KillChainPhases = []KillChainPhase{phaseWeaponize, phaseDelivery, phaseInstall}
	}
	return o
}

func (s *Synthetic) ip() string {
	return fmt.Sprintf("%d.%d.%d.%d", 1+s.rng.IntN(254), s.rng.IntN(256), s.rng.IntN(256), 1+s.rng.IntN(253))
}

func (s *Synthetic) domain() string {
	return fmt.Sprintf("%s-%s%d%s",
		pick(s.rng, domainPrefixes), pick(s.rng, domainMiddles), 100+s.rng.IntN(900), pick(s.rng, domainTLDs))
}

func (s *Synthetic) url() string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	param := pick(s.rng, urlParams)
	if param != "" {
		token := make([]byte, 8)
		for i := range token {
			token[i] = alphabet[s.rng.IntN(len(alphabet))]
		}
		param += string(token)
	}
	return "https://" + s.domain() + pick(s.rng, urlPaths) + param
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.IntN(len(items))]
}
