package classify

import (
	"errors"
	"sort"
	"strings"

	"github.com/oxbowlabs/steward/internal/config"
	"github.com/oxbowlabs/steward/internal/tracker"
	"github.com/oxbowlabs/steward/internal/work"
)

// ErrUnclassifiable is returned when no rule matches and no default role is
// configured. The poller parks such items in the dead-letter bucket.
var ErrUnclassifiable = errors.New("classify: no rule matched")

// Target is the (role, priority) pair a rule routes to.
type Target struct {
	Role     work.Role
	Priority work.Priority
}

type keywordRule struct {
	keyword string
	target  Target
}

// Classifier maps raw tracker items to (role, priority). Rules are evaluated
// in fixed order: exact label, title keyword, body keyword, expression rule,
// default. First match wins.
type Classifier struct {
	labels          map[string]Target
	titleKeywords   []keywordRule
	bodyKeywords    []keywordRule
	exprRules       []exprRule
	defaultRole     work.Role
	defaultPriority work.Priority
}

// New builds a Classifier from configuration. Expression rules are compiled
// here; a compile failure is a config.Error and aborts startup.
func New(cfg *config.Config) (*Classifier, error) {
	c := &Classifier{
		labels:          make(map[string]Target, len(cfg.LabelToRoleMap)),
		defaultRole:     work.Role(cfg.DefaultRole),
		defaultPriority: cfg.DefaultPriority,
	}
	for label, t := range cfg.LabelToRoleMap {
		c.labels[label] = Target{Role: work.Role(t.Role), Priority: t.Priority}
	}
	c.titleKeywords = sortedKeywordRules(cfg.TitleKeywords)
	c.bodyKeywords = sortedKeywordRules(cfg.BodyKeywords)
	for _, r := range cfg.ExprRules {
		compiled, err := compileExprRule(r)
		if err != nil {
			return nil, &config.Error{Key: "expr_rules", Reason: err.Error()}
		}
		c.exprRules = append(c.exprRules, compiled)
	}
	return c, nil
}

// Keyword maps iterate in sorted order so overlapping keywords resolve
// deterministically.
func sortedKeywordRules(m map[string]config.RouteTarget) []keywordRule {
	rules := make([]keywordRule, 0, len(m))
	for kw, t := range m {
		rules = append(rules, keywordRule{
			keyword: strings.ToLower(kw),
			target:  Target{Role: work.Role(t.Role), Priority: t.Priority},
		})
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].keyword < rules[j].keyword })
	return rules
}

// Classify is a pure function over the rule table and the raw item.
func (c *Classifier) Classify(item tracker.RawItem) (Target, error) {
	for _, label := range item.Labels {
		if t, ok := c.labels[label]; ok {
			return t, nil
		}
	}
	title := strings.ToLower(item.Title)
	for _, r := range c.titleKeywords {
		if strings.Contains(title, r.keyword) {
			return r.target, nil
		}
	}
	body := strings.ToLower(item.Body)
	for _, r := range c.bodyKeywords {
		if strings.Contains(body, r.keyword) {
			return r.target, nil
		}
	}
	for _, r := range c.exprRules {
		if r.match(item) {
			return r.target, nil
		}
	}
	if c.defaultRole != "" {
		return Target{Role: c.defaultRole, Priority: c.defaultPriority}, nil
	}
	return Target{}, ErrUnclassifiable
}
