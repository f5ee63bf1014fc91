package gateway

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sandergv/tchub/internal/coremodel"
	"github.com/sandergv/tchub/internal/hub"
	"github.com/sandergv/tchub/internal/tcpserver"
)

// 板卡行协议：
//
//	hello <board> <sensor>:<model>:<unit>[;<sensor>:<model>:<unit>...]
//	<sensor>:<value>
//
// 握手前到达的读数行丢弃。断开时仅解绑连接。

// connAdapter 将网关连接适配为注册表的下行通道
type connAdapter struct {
	cc *tcpserver.ConnContext
}

func (a *connAdapter) Send(line string) error { return a.cc.WriteLine(line) }
func (a *connAdapter) Close() error           { return a.cc.Close() }

// NewConnHandler 构建板卡连接处理器：解析握手与读数行，
// 驱动注册表接入与读数上报
func NewConnHandler(reg *hub.Registry, svc *hub.Service, logger *zap.Logger) func(*tcpserver.ConnContext) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(cc *tcpserver.ConnContext) {
		var boardID coremodel.BoardID

		cc.SetOnLine(func(line string) {
			if boardID == "" {
				id, specs, err := parseHello(line)
				if err != nil {
					logger.Warn("handshake rejected",
						zap.String("remote", cc.RemoteAddr().String()),
						zap.String("line", line),
						zap.Error(err))
					_ = cc.Close()
					return
				}
				addr := cc.RemoteAddr().String()
				if host, _, err := net.SplitHostPort(addr); err == nil {
					addr = host
				}
				if _, _, err := reg.Connect(id, addr, specs, &connAdapter{cc: cc}); err != nil {
					logger.Error("board registration failed",
						zap.String("board", string(id)), zap.Error(err))
				}
				boardID = id
				return
			}

			sensor, value, err := parseReading(line)
			if err != nil {
				logger.Warn("reading line rejected",
					zap.String("board", string(boardID)),
					zap.String("line", line),
					zap.Error(err))
				return
			}
			if err := svc.OnReading(boardID, sensor, value); err != nil {
				logger.Warn("reading dropped",
					zap.String("board", string(boardID)),
					zap.String("sensor", string(sensor)),
					zap.Error(err))
			}
		})

		go func() {
			<-cc.Done()
			if boardID != "" {
				reg.OnDisconnect(boardID)
			}
		}()
	}
}

// parseHello 解析握手行
func parseHello(line string) (coremodel.BoardID, []hub.SensorSpec, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "hello" {
		return "", nil, fmt.Errorf("malformed handshake")
	}
	id := coremodel.BoardID(fields[1])

	var specs []hub.SensorSpec
	for _, part := range strings.Split(fields[2], ";") {
		if part == "" {
			continue
		}
		segs := strings.Split(part, ":")
		if len(segs) != 3 || segs[0] == "" {
			return "", nil, fmt.Errorf("malformed sensor spec %q", part)
		}
		specs = append(specs, hub.SensorSpec{
			ID:      coremodel.SensorID(segs[0]),
			Model:   segs[1],
			Measure: segs[2],
		})
	}
	if len(specs) == 0 {
		return "", nil, fmt.Errorf("handshake without sensors")
	}
	return id, specs, nil
}

// parseReading 解析读数行 sensor:value
func parseReading(line string) (coremodel.SensorID, float64, error) {
	sensor, raw, ok := strings.Cut(line, ":")
	if !ok || sensor == "" {
		return "", 0, fmt.Errorf("malformed reading")
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed value %q", raw)
	}
	return coremodel.SensorID(sensor), value, nil
}
