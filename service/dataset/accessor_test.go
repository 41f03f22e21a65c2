/*
 * @module service/dataset/accessor_test
 * @description 数据集访问器单元测试
 * @architecture 测试层 - 基于内存SQLite的集成测试
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 建表插数 -> 采样读取 -> 结果断言
 * @rules 非法表标识符必须被拒绝
 * @dependencies testing, testify, sqlite
 * @refs accessor.go
 */

package dataset

import (
	"testing"

	"ruleengine-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDatasetSampleRejectsInvalidIdentifier(t *testing.T) {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	accessor := NewTableAccessor(tdb.DB)

	for _, datasetID := range []string{
		"",
		"1table",
		"users; DROP TABLE users",
		"users--",
		`users"`,
	} {
		_, err := accessor.GetDatasetSample(datasetID, 10)
		assert.Error(t, err, "标识符 %q 应当被拒绝", datasetID)
	}
}

func TestGetDatasetSample(t *testing.T) {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)

	require.NoError(t, tdb.DB.Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT, age INTEGER)`).Error)
	for i := 0; i < 5; i++ {
		require.NoError(t, tdb.DB.Exec(`INSERT INTO customers (name, age) VALUES (?, ?)`, "user", 20+i).Error)
	}

	accessor := NewTableAccessor(tdb.DB)

	rows, err := accessor.GetDatasetSample("customers", 3)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, "user", rows[0]["name"])

	// limit越界时使用默认上限
	rows, err = accessor.GetDatasetSample("customers", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	_, err = accessor.GetDatasetSample("missing_table", 10)
	assert.Error(t, err)
}
