package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// AddressPattern 校验系统签发的收件地址格式：
// 固定长度的小写字母数字本地部分 + 服务自有域名。
// 不符合该格式的投递目标一律视为系统从未签发过的地址。
type AddressPattern struct {
	domain    string
	localLen  int
	localPart *regexp.Regexp
}

// NewAddressPattern 创建地址格式校验器。
func NewAddressPattern(domain string, localLen int) *AddressPattern {
	return &AddressPattern{
		domain:    strings.ToLower(domain),
		localLen:  localLen,
		localPart: regexp.MustCompile(fmt.Sprintf(`^[a-z0-9]{%d}$`, localLen)),
	}
}

// Match 判断完整地址是否符合签发格式。
// 签发的地址全部为小写，这里不做大小写归一：
// 大写变体与存储层的精确查找对不上，视为未签发地址。
func (p *AddressPattern) Match(address string) bool {
	address = strings.TrimSpace(address)
	at := strings.LastIndex(address, "@")
	if at <= 0 {
		return false
	}
	local, dom := address[:at], address[at+1:]
	if dom != p.domain {
		return false
	}
	return p.localPart.MatchString(local)
}

// Domain 返回服务域名。
func (p *AddressPattern) Domain() string {
	return p.domain
}

// LocalLen 返回本地部分长度。
func (p *AddressPattern) LocalLen() int {
	return p.localLen
}
