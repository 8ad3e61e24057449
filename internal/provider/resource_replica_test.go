package provider

import (
	"testing"

	"github.com/hashicorp/terraform-plugin-testing/helper/resource"
)

func TestAccReplicaResource_supplier(t *testing.T) {
	testAccPreCheck(t)
	gen := NewTestDataGenerator()
	name := GenerateTestBackendName()
	suffix := gen.TestSuffix()

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: testAccProtoV6ProviderFactories,
		CheckDestroy:             TestCheckDestroy,
		Steps: []resource.TestStep{
			// Create and Read testing
			{
				Config: TestProviderConfig() + gen.GenerateReplicaConfig(name, suffix, 7),
				Check: resource.ComposeAggregateTestCheckFunc(
					TestCheckReplicaExists("dirsrv_replica.test"),
					resource.TestCheckResourceAttr("dirsrv_replica.test", "role", "supplier"),
					resource.TestCheckResourceAttr("dirsrv_replica.test", "replica_id", "7"),
					resource.TestCheckResourceAttr("dirsrv_replica.test", "replica_type", "3"),
					resource.TestCheckResourceAttrSet("dirsrv_replica.test", "dn"),
				),
			},
			// The RUV of a fresh supplier carries its own replica ID
			{
				Config: TestProviderConfig() + gen.GenerateReplicaConfig(name, suffix, 7) + `

data "dirsrv_ruv" "test" {
  suffix = dirsrv_replica.test.suffix
}`,
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttrSet("data.dirsrv_ruv.test", "generation"),
					resource.TestCheckResourceAttr("data.dirsrv_ruv.test", "replicas.0.rid", "7"),
				),
			},
			// ImportState testing
			{
				ResourceName:                         "dirsrv_replica.test",
				ImportState:                          true,
				ImportStateId:                        suffix,
				ImportStateVerifyIdentifierAttribute: "suffix",
				ImportStateVerify:                    true,
				ImportStateVerifyIgnore:              []string{"role"},
			},
		},
	})
}
