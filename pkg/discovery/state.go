package discovery

// State 服务实例的注册状态，只能由Manager修改
type State int32

const (
	// StateUnregistered 未注册
	StateUnregistered State = iota
	// StateRegistering 正在注册
	StateRegistering
	// StateRegistered 已注册
	StateRegistered
	// StateDeregistered 已注销，生命周期结束
	StateDeregistered
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistering:
		return "registering"
	case StateRegistered:
		return "registered"
	case StateDeregistered:
		return "deregistered"
	default:
		return "unknown"
	}
}
