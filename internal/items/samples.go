package items

import (
	"time"

	"lostfound/internal/domain"
)

// fallbackItems 远端拉不到数据时的兜底样例，保证列表页不空白。
// ID 带 sample- 前缀，重载成功后整批被真实数据替换
func fallbackItems() []domain.Item {
	now := time.Now()
	return []domain.Item{
		{
			ID:          "sample-1",
			UserID:      "sample",
			UserName:    "样例用户",
			UserPhone:   "13800000000",
			ProductName: "蓝色雨伞",
			Location:    "教学楼 A 座大厅",
			Date:        now.AddDate(0, 0, -1),
			Type:        domain.TypeNormal,
			Status:      domain.StatusFound,
			CreatedAt:   now.Add(-time.Hour),
		},
		{
			ID:          "sample-2",
			UserID:      "sample",
			UserName:    "样例用户",
			UserPhone:   "13800000000",
			ProductName: "校园卡",
			Location:    "第二食堂",
			Date:        now.AddDate(0, 0, -2),
			Type:        domain.TypeEmergency,
			Status:      domain.StatusLost,
			CreatedAt:   now.Add(-2 * time.Hour),
		},
		{
			ID:          "sample-3",
			UserID:      "sample",
			UserName:    "样例用户",
			UserPhone:   "13800000000",
			ProductName: "黑色钱包",
			Description: "内有身份证，拾到请联系",
			Location:    "图书馆三楼自习区",
			Date:        now.AddDate(0, 0, -3),
			Type:        domain.TypeEmergency,
			Status:      domain.StatusLost,
			CreatedAt:   now.Add(-3 * time.Hour),
		},
	}
}
