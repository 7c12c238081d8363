package resolve

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/hewenyu/kong-auth-connector/pkg/autherr"
)

// 默认DNS查询超时
const defaultTimeout = 5 * time.Second

// ErrNoRecords SRV查询没有返回可用记录
var ErrNoRecords = errors.New("没有可用的SRV记录")

// Target SRV记录指向的一个地址
type Target struct {
	Host     string
	Port     uint16
	Priority uint16
	Weight   uint16
}

// Address 返回host:port形式的地址
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// SRVResolver 通过SRV记录查找注册中心地址
type SRVResolver struct {
	servers []string
	client  *dns.Client
}

// NewSRVResolver 创建解析器，servers为空时使用/etc/resolv.conf中的服务器
func NewSRVResolver(servers []string) (*SRVResolver, error) {
	if len(servers) == 0 {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, autherr.NewConfigurationError("未指定DNS服务器且无法读取resolv.conf: " + err.Error())
		}
		for _, s := range conf.Servers {
			servers = append(servers, net.JoinHostPort(s, conf.Port))
		}
	}
	if len(servers) == 0 {
		return nil, autherr.NewConfigurationError("没有可用的DNS服务器")
	}

	return &SRVResolver{
		servers: servers,
		client: &dns.Client{
			Net:     "udp",
			Timeout: defaultTimeout,
		},
	}, nil
}

// LookupSRV 查询SRV记录，结果按优先级升序、权重降序排列
func (r *SRVResolver) LookupSRV(ctx context.Context, name string) ([]Target, error) {
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), dns.TypeSRV)
	req.RecursionDesired = true

	// 随机选择一个服务器，失败时换一个再试
	server := r.randomServer()
	resp, _, err := r.client.ExchangeContext(ctx, req, server)
	if err != nil && len(r.servers) > 1 {
		resp, _, err = r.client.ExchangeContext(ctx, req, r.randomServerExcept(server))
	}
	if err != nil {
		return nil, fmt.Errorf("查询SRV记录失败 %s: %w", name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("查询SRV记录失败 %s: %s", name, dns.RcodeToString[resp.Rcode])
	}

	var targets []Target
	for _, rr := range resp.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		targets = append(targets, Target{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     srv.Port,
			Priority: srv.Priority,
			Weight:   srv.Weight,
		})
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRecords, name)
	}

	sort.SliceStable(targets, func(i, j int) bool {
		if targets[i].Priority != targets[j].Priority {
			return targets[i].Priority < targets[j].Priority
		}
		return targets[i].Weight > targets[j].Weight
	})
	return targets, nil
}

// ResolveURL 把SRV记录解析为基础URL，如 http://host:port/api/registry
func (r *SRVResolver) ResolveURL(ctx context.Context, name, scheme, path string) (string, error) {
	targets, err := r.LookupSRV(ctx, name)
	if err != nil {
		return "", err
	}
	if scheme == "" {
		scheme = "http"
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + targets[0].Address() + path, nil
}

func (r *SRVResolver) randomServer() string {
	return r.servers[rand.Intn(len(r.servers))]
}

func (r *SRVResolver) randomServerExcept(except string) string {
	for _, s := range r.servers {
		if s != except {
			return s
		}
	}
	return except
}
