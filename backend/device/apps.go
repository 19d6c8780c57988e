package device

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// staticAppMap is the fallback name-to-package mapping used when the device
// cannot be queried. It mirrors the app knowledge baked into the planner
// prompt.
var staticAppMap = map[string]string{
	// Social & messaging
	"微信":       "com.tencent.mm",
	"wechat":   "com.tencent.mm",
	"qq":       "com.tencent.mobileqq",
	"微博":       "com.sina.weibo",
	"whatsapp": "com.whatsapp",
	"telegram": "org.telegram.messenger",

	// E-commerce
	"淘宝":   "com.taobao.taobao",
	"京东":   "com.jingdong.app.mall",
	"拼多多":  "com.xunmeng.pinduoduo",
	"temu": "com.einnovation.temu",

	// Lifestyle
	"小红书":     "com.xingin.xhs",
	"知乎":      "com.zhihu.android",
	"豆瓣":      "com.douban.frodo",
	"twitter": "com.twitter.android",
	"x":       "com.twitter.android",
	"reddit":  "com.reddit.frontpage",

	// Maps
	"高德地图":        "com.autonavi.minimap",
	"百度地图":        "com.baidu.BaiduMap",
	"google maps": "com.google.android.apps.maps",

	// Food & services
	"美团":   "com.sankuai.meituan",
	"大众点评": "com.dianping.v1",
	"饿了么":  "me.ele",
	"肯德基":  "com.yek.android.kfc.activitys",

	// Travel
	"携程":      "ctrip.android.view",
	"12306":   "com.MobileTicket",
	"去哪儿":     "com.Qunar",
	"滴滴出行":    "com.sdu.didi.psnger",
	"booking": "com.booking",

	// Video & entertainment
	"bilibili": "tv.danmaku.bili",
	"抖音":       "com.ss.android.ugc.aweme",
	"快手":       "com.smile.gifmaker",
	"腾讯视频":     "com.tencent.qqlive",
	"爱奇艺":      "com.qiyi.video",
	"tiktok":   "com.zhiliaoapp.musically",

	// Music & audio
	"网易云音乐": "com.netease.cloudmusic",
	"qq音乐":  "com.tencent.qqmusic",
	"喜马拉雅":  "com.ximalaya.ting.android",

	// Productivity
	"飞书":     "com.ss.android.lark",
	"gmail":  "com.google.android.gm",
	"chrome": "com.android.chrome",

	// Finance
	"支付宝":    "com.eg.android.AlipayGphone",
	"alipay": "com.eg.android.AlipayGphone",

	// System
	"相机":       "com.android.camera",
	"设置":       "com.android.settings",
	"settings": "com.android.settings",
	"clock":    "com.android.deskclock",
	"contacts": "com.android.contacts",
}

// AppCatalog resolves user-facing app names to package names. The static
// map is always present; Refresh merges in the packages installed on the
// device so exact package names also resolve.
type AppCatalog struct {
	mu   sync.RWMutex
	apps map[string]string
}

func NewAppCatalog() *AppCatalog {
	apps := make(map[string]string, len(staticAppMap))
	for name, pkg := range staticAppMap {
		apps[name] = pkg
	}
	return &AppCatalog{apps: apps}
}

// Resolve maps an app name to a package name. Matching is case-insensitive
// and falls back to treating a dotted name as a literal package.
func (c *AppCatalog) Resolve(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if pkg, ok := c.apps[strings.ToLower(name)]; ok {
		return pkg, true
	}
	if strings.Count(name, ".") >= 2 {
		return name, true
	}
	return "", false
}

// Refresh merges the device's installed package list into the catalog.
// Failures leave the static mapping intact.
func (c *AppCatalog) Refresh(ctx context.Context, bridge *ADBBridge) {
	packages, err := bridge.ListPackages(ctx)
	if err != nil {
		slog.Warn("failed to refresh app catalog", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pkg := range packages {
		// Index by the trailing package segment: "com.tencent.mm" -> "mm".
		if idx := strings.LastIndex(pkg, "."); idx >= 0 && idx < len(pkg)-1 {
			segment := strings.ToLower(pkg[idx+1:])
			if _, exists := c.apps[segment]; !exists {
				c.apps[segment] = pkg
			}
		}
		c.apps[strings.ToLower(pkg)] = pkg
	}
	slog.Debug("app catalog refreshed", "count", len(c.apps))
}

// Known returns the catalog's names in sorted order.
func (c *AppCatalog) Known() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.apps))
	for name := range c.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
